package webpush

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"

	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeGone
)

func (s *Service) fanOut(ctx context.Context, body []byte, subs []storage.Subscription, keys vapidKeys) Result {
	workers := s.opts.Workers
	if workers > len(subs) {
		workers = len(subs)
	}

	queue := make(chan storage.Subscription)
	var (
		wg            sync.WaitGroup
		sent, removed atomic.Int64
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			for sub := range queue {
				switch s.safeSend(ctx, idx, body, sub, keys) {
				case outcomeSent:
					sent.Add(1)
				case outcomeGone:
					if ok, err := s.store.Remove(context.WithoutCancel(ctx), sub.Endpoint); err != nil {
						s.log.Debug("remove stale subscription failed", logx.String("id", sub.ID), logx.Err(err))
					} else if ok {
						removed.Add(1)
					}
				}
			}
		}()
	}

	for _, sub := range subs {
		select {
		case queue <- sub:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()

	res := Result{
		Total:   len(subs),
		Sent:    int(sent.Load()),
		Removed: int(removed.Load()),
	}
	// Gone and never-attempted subscriptions count as failed.
	res.Failed = res.Total - res.Sent
	return res
}

func (s *Service) safeSend(ctx context.Context, worker int, body []byte, sub storage.Subscription, keys vapidKeys) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in web push worker", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = outcomeFailed
		}
	}()
	return s.sendOne(ctx, body, sub, keys)
}

func (s *Service) sendOne(ctx context.Context, body []byte, sub storage.Subscription, keys vapidKeys) outcome {
	if err := s.limiter.Wait(ctx); err != nil {
		return outcomeFailed
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	opts := &wp.Options{
		Subscriber:      s.subject(),
		VAPIDPublicKey:  keys.public,
		VAPIDPrivateKey: keys.private,
		TTL:             s.opts.TTL,
		Urgency:         wp.UrgencyNormal,
	}
	if s.opts.HTTPClient != nil {
		opts.HTTPClient = s.opts.HTTPClient
	}
	// The library appends padding to the message buffer; cap the slice so each
	// send gets its own backing array instead of the shared one.
	resp, err := s.send(callCtx, body[:len(body):len(body)], &wp.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     wp.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
	}, opts)
	if err != nil {
		s.log.Debug("web push send failed", logx.String("id", sub.ID), logx.Err(err))
		return outcomeFailed
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		s.log.Debug("web push subscription gone", logx.String("id", sub.ID), logx.Int("status", resp.StatusCode))
		return outcomeGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := s.store.Touch(context.WithoutCancel(ctx), sub.Endpoint, time.Now()); err != nil {
			s.log.Debug("record delivery failed", logx.String("id", sub.ID), logx.Err(err))
		}
		return outcomeSent
	default:
		s.log.Debug("web push send rejected", logx.String("id", sub.ID), logx.Err(fmt.Errorf("push service returned %d", resp.StatusCode)))
		return outcomeFailed
	}
}

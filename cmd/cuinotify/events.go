package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cuinotify/internal/notifier"
	logx "cuinotify/pkg/logx"
)

const (
	eventPermission      = "permission"
	eventConversationEnd = "conversation-end"

	maxEventLine = 1 << 20
	maxInFlight  = 32
)

// inboundEvent is one line of the serve input stream.
type inboundEvent struct {
	Type        string                      `json:"type"`
	Request     *notifier.PermissionRequest `json:"request,omitempty"`
	StreamingID string                      `json:"streamingId,omitempty"`
	SessionID   string                      `json:"sessionId,omitempty"`
	Summary     string                      `json:"summary,omitempty"`
}

type eventDispatcher interface {
	NotifyPermissionRequest(ctx context.Context, req notifier.PermissionRequest, sessionID, summary string)
	NotifyConversationEnd(ctx context.Context, streamingID, sessionID, summary string)
}

func decodeEvent(line []byte) (inboundEvent, error) {
	var ev inboundEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	switch strings.TrimSpace(ev.Type) {
	case eventPermission:
		if ev.Request == nil {
			return ev, errors.New("permission event requires request")
		}
		if strings.TrimSpace(ev.Request.ID) == "" {
			return ev, errors.New("permission event requires request.id")
		}
		// Re-read toolInput verbatim: a decoded map would lose key order.
		var raw struct {
			Request struct {
				ToolInput json.RawMessage `json:"toolInput"`
			} `json:"request"`
		}
		if err := json.Unmarshal(line, &raw); err == nil && len(raw.Request.ToolInput) > 0 {
			ev.Request.ToolInput = raw.Request.ToolInput
		}
	case eventConversationEnd:
		if strings.TrimSpace(ev.StreamingID) == "" {
			return ev, errors.New("conversation-end event requires streamingId")
		}
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

func (ev inboundEvent) dispatch(ctx context.Context, d eventDispatcher) {
	switch ev.Type {
	case eventPermission:
		d.NotifyPermissionRequest(ctx, *ev.Request, ev.SessionID, ev.Summary)
	case eventConversationEnd:
		d.NotifyConversationEnd(ctx, ev.StreamingID, ev.SessionID, ev.Summary)
	}
}

// consumeEvents reads newline-delimited events from r and dispatches each on
// its own goroutine with dispatchCtx, at most maxInFlight at a time.
// Malformed lines are logged and skipped. Reading stops when r is exhausted
// or readCtx is done; either way it returns only after every accepted
// dispatch has finished.
func consumeEvents(readCtx, dispatchCtx context.Context, r io.Reader, d eventDispatcher, log logx.Logger) (int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	var scanErr error
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		scanErr = sc.Err()
	}()

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, maxInFlight)
		accepted int
		lineNo   int
	)
	defer wg.Wait()

	for {
		var (
			raw string
			ok  bool
		)
		select {
		case raw, ok = <-lines:
		case <-readCtx.Done():
			log.Info("input reading stopped; waiting for in-flight dispatches", logx.Int("accepted", accepted))
			return accepted, nil
		}
		if !ok {
			break
		}
		lineNo++
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		ev, err := decodeEvent([]byte(line))
		if err != nil {
			log.Warn("skipping malformed event", logx.Int("line", lineNo), logx.Err(err))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-readCtx.Done():
			return accepted, nil
		}
		accepted++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ev.dispatch(dispatchCtx, d)
		}()
	}
	// lines is closed, so the scanner goroutine has written scanErr.
	if scanErr != nil {
		return accepted, fmt.Errorf("read events: %w", scanErr)
	}
	return accepted, nil
}

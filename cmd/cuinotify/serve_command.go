package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cuinotify/internal/app"
	"cuinotify/internal/notifier/ntfy"
	"cuinotify/internal/notifier/webpush"
	logx "cuinotify/pkg/logx"
	"cuinotify/pkg/systemd"
)

type consumeResult struct {
	accepted int
	err      error
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Dispatch notifications for newline-delimited JSON events read from stdin",
		Long: `Reads one JSON event per line and dispatches each concurrently:

  {"type":"permission","request":{"id":"...","toolName":"Bash","toolInput":{},"streamingId":"..."},"sessionId":"...","summary":""}
  {"type":"conversation-end","streamingId":"...","sessionId":"...","summary":"..."}

Runs until the input is closed or the process is signalled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if p := strings.TrimSpace(inputPath); p != "" && p != "-" {
				f, err := os.Open(p)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			if err := a.Start(runCtx); err != nil {
				ctx.stopReason = app.StopFatalError
				return err
			}
			log := a.Logger().With(logx.String("comp", "serve"))
			announceReady(log)
			go func() {
				if err := systemd.Watchdog(runCtx); err != nil {
					log.Warn("systemd watchdog stopped", logx.Err(err))
				}
			}()

			// Dispatches run on a context that survives the signal; only
			// reading is canceled, and the app stops after they drain.
			dispatchCtx := context.WithoutCancel(runCtx)
			readCtx, cancelRead := context.WithCancel(runCtx)
			defer cancelRead()
			done := make(chan consumeResult, 1)
			go func() {
				n, err := consumeEvents(readCtx, dispatchCtx, in, a.Dispatcher(), log)
				done <- consumeResult{accepted: n, err: err}
			}()

			var (
				runErr  error
				drained bool
			)
			select {
			case res := <-done:
				drained = true
				ctx.stopReason = app.StopInputClosed
				log.Info("input closed", logx.Int("events", res.accepted))
				runErr = res.err
			case sig := <-sigCh:
				ctx.stopReason = signalReason(sig)
			case <-a.Done():
				if runErr = a.Err(); runErr != nil {
					ctx.stopReason = app.StopFatalError
					break
				}
				select {
				case sig := <-sigCh:
					ctx.stopReason = signalReason(sig)
				default:
				}
			}

			if _, err := systemd.Stopping(); err != nil {
				log.Debug("sd_notify stopping failed", logx.Err(err))
			}
			if !drained {
				cancelRead()
				awaitDispatches(done, drainTimeout, log)
			}
			if err := ctx.close(context.Background()); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Read events from a file instead of stdin")
	return cmd
}

// drainTimeout bounds how long shutdown waits for in-flight dispatches: one
// relay attempt plus a broadcast round.
const drainTimeout = ntfy.DefaultTimeout + 2*webpush.DefaultSendTimeout

// awaitDispatches waits for consumeEvents to report back, or for timeout.
// It reports whether every dispatch finished.
func awaitDispatches(done <-chan consumeResult, timeout time.Duration, log logx.Logger) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-done:
		log.Info("in-flight dispatches finished", logx.Int("events", res.accepted))
		return true
	case <-t.C:
		log.Warn("in-flight dispatches still running at shutdown", logx.Duration("waited", timeout))
		return false
	}
}

func announceReady(log logx.Logger) {
	sent, err := systemd.Ready()
	switch {
	case err != nil:
		log.Warn("sd_notify ready failed", logx.Err(err))
	case sent:
		_, _ = systemd.Status("dispatching notifications")
		log.Debug("notified systemd readiness")
	}
}

func signalReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}


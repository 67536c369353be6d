package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"cuinotify/internal/app"
	"cuinotify/internal/config"
)

type commandContext struct {
	configFlag *string

	appOnce sync.Once
	app     *app.App
	appErr  error

	closeOnce sync.Once
	// stopReason is recorded by long-running commands before close.
	stopReason app.StopReason
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, stopReason: app.StopUnknown}
}

func (c *commandContext) configPath() (string, error) {
	if c.configFlag != nil {
		if p := strings.TrimSpace(*c.configFlag); p != "" {
			return config.ExpandPath(p)
		}
	}
	return config.DefaultPath()
}

func (c *commandContext) ensureApp() (*app.App, error) {
	c.appOnce.Do(func() {
		path, err := c.configPath()
		if err != nil {
			c.appErr = err
			return
		}
		c.app, c.appErr = app.New(path)
	})
	return c.app, c.appErr
}

// close stops the app if one was created. Safe to call more than once.
func (c *commandContext) close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.app == nil {
			return
		}
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = c.app.Stop(stopCtx, c.stopReason)
	})
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

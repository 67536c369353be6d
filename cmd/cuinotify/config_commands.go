package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cuinotify/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ctx.configPath()
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			if _, err := os.Stat(target); err == nil {
				if !overwrite {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				}
				if err := os.Remove(target); err != nil {
					return fmt.Errorf("remove existing config: %w", err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check config path: %w", err)
			}

			machineID := config.GenerateMachineID()
			if err := config.CreateSample(target, machineID); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Subscribe to ntfy topic cui-%s to receive notifications.\n", machineID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Parse and validate the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.configPath()
			if err != nil {
				return err
			}
			cfg, err := config.NewManager(path).Parse()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", path)
			fmt.Fprintf(out, "  notifications: %s\n", yesNo(cfg.NotificationsEnabled()))
			fmt.Fprintf(out, "  ntfy:          %s\n", yesNo(cfg.Ntfy() != nil && cfg.Ntfy().Enabled))
			fmt.Fprintf(out, "  web push:      %s\n", yesNo(cfg.WebPushEnabled()))
			return nil
		},
	}
}

func newMachineIDCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "machine-id",
		Short:       "Print the machine id used in the ntfy topic",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if path, err := ctx.configPath(); err == nil {
				if cfg, err := config.NewManager(path).Parse(); err == nil {
					id = strings.TrimSpace(cfg.MachineID)
				}
			}
			if id == "" {
				id = config.GenerateMachineID()
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newVAPIDCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Print the VAPID public key browsers subscribe with",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			push := a.WebPush()
			if !push.Enabled() {
				return errors.New("web push is disabled (interface.notifications.webPush.enabled)")
			}
			if err := push.Initialize(cmd.Context()); err != nil {
				return err
			}
			key := push.PublicKey()
			if key == "" {
				return errors.New("no VAPID key available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

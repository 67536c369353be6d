package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cuinotify/internal/storage"
)

// pushSubscriptionJSON mirrors the browser's PushSubscription.toJSON().
type pushSubscriptionJSON struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (p pushSubscriptionJSON) subscription(userAgent string) storage.Subscription {
	sub := storage.Subscription{
		Endpoint:  p.Endpoint,
		P256dh:    p.Keys.P256dh,
		Auth:      p.Keys.Auth,
		UserAgent: userAgent,
	}
	if p.ExpirationTime != nil && *p.ExpirationTime > 0 {
		sub.ExpiresAt = time.UnixMilli(*p.ExpirationTime)
	}
	return sub
}

func newSubscriptionsCommand(ctx *commandContext) *cobra.Command {
	subsCmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Manage Web Push subscriptions",
	}
	subsCmd.AddCommand(newSubscriptionsListCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsAddCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsRemoveCommand(ctx))
	subsCmd.AddCommand(newSubscriptionsPruneCommand(ctx))
	return subsCmd
}

func newSubscriptionsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			subs, err := a.WebPush().Subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if subs == nil {
					subs = []storage.Subscription{}
				}
				return writeJSON(cmd, subs)
			}
			out := cmd.OutOrStdout()
			if len(subs) == 0 {
				fmt.Fprintln(out, "No subscriptions registered")
				return nil
			}
			fmt.Fprintln(out, renderSubscriptions(subs, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderSubscriptions(subs []storage.Subscription, now time.Time) string {
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []string{
			s.ID,
			s.Endpoint,
			formatTime(s.CreatedAt),
			formatTime(s.LastSeen),
			formatTime(s.ExpiresAt),
			yesNo(s.Expired(now)),
			s.UserAgent,
		})
	}
	return renderTable([]column{
		{title: "ID"},
		{title: "Endpoint", maxRunes: 48},
		{title: "Created"},
		{title: "Last Seen"},
		{title: "Expires"},
		{title: "Expired"},
		{title: "User Agent", maxRunes: 32},
	}, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func newSubscriptionsAddCommand(ctx *commandContext) *cobra.Command {
	var (
		endpoint  string
		p256dh    string
		auth      string
		userAgent string
		expires   string
	)

	cmd := &cobra.Command{
		Use:   "add [subscription.json|-]",
		Short: "Register a subscription from PushSubscription JSON or flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}

			var sub storage.Subscription
			if len(args) == 1 {
				sub, err = readPushSubscription(cmd.InOrStdin(), args[0], userAgent)
				if err != nil {
					return err
				}
			} else {
				sub = storage.Subscription{Endpoint: endpoint, P256dh: p256dh, Auth: auth, UserAgent: userAgent}
			}
			if strings.TrimSpace(expires) != "" {
				at, err := parseExpiry(expires)
				if err != nil {
					return err
				}
				sub.ExpiresAt = at
			}

			stored, err := a.WebPush().Subscribe(cmd.Context(), sub)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s registered\n", stored.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Push service endpoint URL")
	cmd.Flags().StringVar(&p256dh, "p256dh", "", "Client public key (base64url)")
	cmd.Flags().StringVar(&auth, "auth", "", "Client auth secret (base64url)")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "User agent recorded with the subscription")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiration as RFC3339 or unix milliseconds")
	return cmd
}

func readPushSubscription(stdin io.Reader, src, userAgent string) (storage.Subscription, error) {
	var (
		b   []byte
		err error
	)
	if src == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(src)
	}
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("read subscription: %w", err)
	}
	var p pushSubscriptionJSON
	if err := json.Unmarshal(b, &p); err != nil {
		return storage.Subscription{}, fmt.Errorf("decode subscription: %w", err)
	}
	return p.subscription(userAgent), nil
}

func parseExpiry(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --expires %q: use RFC3339 or unix milliseconds", raw)
	}
	return t, nil
}

func newSubscriptionsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <endpoint>",
		Aliases: []string{"rm"},
		Short:   "Remove a subscription by endpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			removed, err := a.WebPush().Unsubscribe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return errors.New("subscription not found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Subscription removed")
			return nil
		},
	}
}

func newSubscriptionsPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired subscriptions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			n, err := a.Maintenance().RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired subscription(s)\n", n)
			return nil
		},
	}
}

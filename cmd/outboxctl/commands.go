package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/cmd/internal/bootstrap"
	"github.com/velmie/mutation-outbox/config"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/zaplog"
)

var errRemoteNotOpened = errors.New("outboxctl: remote is only opened by flush")

// offlineWriter satisfies registration for commands that never reach the remote.
type offlineWriter struct{}

func (offlineWriter) WriteNotificationPreferences(context.Context, string, mutation.NotificationPreferences) error {
	return outbox.Transient(errRemoteNotOpened)
}

func (offlineWriter) WriteProfile(context.Context, string, mutation.ProfileUpdate) error {
	return outbox.Transient(errRemoteNotOpened)
}

type cli struct {
	out io.Writer

	configPath string
	envFile    string
	actor      string
	format     string

	cfg    config.Config
	logger *zap.Logger
}

// session is an opened queue; close releases the store and the remote.
type session struct {
	store  outbox.Store
	outbox *outbox.Outbox
	close  func()
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "outboxctl",
		Short:         "Inspect and operate a local mutation outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath, c.envFile)
			if err != nil {
				return err
			}
			if c.actor != "" {
				cfg.ActorUID = c.actor
			}
			if c.format != "text" && c.format != "json" {
				return fmt.Errorf("--out must be text or json, got %q", c.format)
			}
			logger, err := zaplog.Build(zaplog.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, Service: "outboxctl"})
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file, skipped when missing")
	root.PersistentFlags().StringVar(&c.actor, "actor", "", "actor uid (overrides OUTBOX_ACTOR_UID)")
	root.PersistentFlags().StringVar(&c.format, "out", "text", "output format: text|json")

	root.AddCommand(
		c.listCmd(),
		c.dueCmd(),
		c.enqueueCmd(),
		c.flushCmd(),
		c.telemetryCmd(),
		c.resetTelemetryCmd(),
		c.purgeCmd(),
	)

	return root
}

func (c *cli) open(ctx context.Context, withRemote bool) (*session, error) {
	store, closeStore, err := bootstrap.OpenStore(ctx, c.cfg.Store)
	if err != nil {
		return nil, err
	}
	closeRemote := func() error { return nil }
	var writer mutation.Writer = offlineWriter{}
	if withRemote {
		writer, closeRemote, err = bootstrap.OpenWriter(ctx, c.cfg.Remote)
		if err != nil {
			_ = closeStore()

			return nil, err
		}
	}

	registry := outbox.NewRegistry()
	mutation.Register(registry, writer)
	opts := append(bootstrap.Options(c.cfg),
		outbox.WithLogger(zaplog.New(c.logger)),
		outbox.WithIdentity(outbox.NewIdentityHolder(c.cfg.ActorUID)),
	)
	ob, err := outbox.New(ctx, store, registry, opts...)
	if err != nil {
		_ = closeRemote()
		_ = closeStore()

		return nil, err
	}

	return &session{
		store:  store,
		outbox: ob,
		close: func() {
			_ = closeRemote()
			_ = closeStore()
		},
	}, nil
}

func (c *cli) requireActor() error {
	if c.cfg.ActorUID == "" {
		return errors.New("an actor is required (--actor or OUTBOX_ACTOR_UID)")
	}

	return nil
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every queued record of the actor, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireActor(); err != nil {
				return err
			}
			s, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			records, err := s.store.GetAllByIndex(cmd.Context(), outbox.IndexActorUID, c.cfg.ActorUID)
			if err != nil {
				return err
			}
			outbox.SortRecords(records)

			return c.printRecords(records)
		},
	}
}

func (c *cli) dueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List records of every actor that are due at a time (default now)",
		RunE: func(cmd *cobra.Command, args []string) error {
			bound := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				bound = parsed
			}
			s, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			records, err := s.store.GetAllByIndex(cmd.Context(), outbox.IndexNextAttemptAt, outbox.FormatIndexTime(bound))
			if err != nil {
				return err
			}
			outbox.SortRecords(records)

			return c.printRecords(records)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time bound")

	return cmd
}

func (c *cli) enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a mutation for the actor without contacting the remote",
	}

	var prefs mutation.NotificationPreferences
	prefsCmd := &cobra.Command{
		Use:   "preferences",
		Short: "Queue a notification preferences document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := prefs.Validate(); err != nil {
				return err
			}

			return c.enqueue(cmd.Context(), mutation.NotificationPreferencesKey(c.cfg.ActorUID), prefs)
		},
	}
	prefsCmd.Flags().BoolVar(&prefs.Email, "email", false, "email notifications")
	prefsCmd.Flags().BoolVar(&prefs.SMS, "sms", false, "sms notifications")
	prefsCmd.Flags().BoolVar(&prefs.Push, "push", false, "push notifications")
	prefsCmd.Flags().StringVar(&prefs.Digest, "digest", "", "digest frequency: off|daily|weekly")

	var profile mutation.ProfileUpdate
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Queue a profile update",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.Validate(); err != nil {
				return err
			}

			return c.enqueue(cmd.Context(), mutation.ProfileKey(c.cfg.ActorUID), profile)
		},
	}
	profileCmd.Flags().StringVar(&profile.DisplayName, "display-name", "", "display name")
	profileCmd.Flags().StringVar(&profile.Timezone, "timezone", "", "IANA timezone")
	profileCmd.Flags().StringVar(&profile.Locale, "locale", "", "BCP 47 locale")

	cmd.AddCommand(prefsCmd, profileCmd)

	return cmd
}

func (c *cli) enqueue(ctx context.Context, dedupeKey string, m outbox.Mutation) error {
	if err := c.requireActor(); err != nil {
		return err
	}
	s, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()

	record, err := s.outbox.Enqueue(ctx, c.cfg.ActorUID, dedupeKey, m)
	if err != nil {
		return err
	}

	return c.printRecords([]outbox.Record{record})
}

func (c *cli) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Drain the due records of the actor into the configured remote once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireActor(); err != nil {
				return err
			}
			s, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.outbox.Flush(cmd.Context())
			if perr := c.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "processed=%d succeeded=%d failed=%d skipped=%d retried=%d dropped=%d\n",
					res.Processed, res.Succeeded, res.Failed, res.Skipped, res.Retried, res.Dropped)
			}); perr != nil {
				return perr
			}

			return err
		},
	}
}

func (c *cli) telemetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry",
		Short: "Show the persisted telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			t := s.outbox.Telemetry()

			return c.print(t, func(w io.Writer) {
				fmt.Fprintf(w, "enqueued=%d flush_runs=%d processed=%d succeeded=%d failed=%d pending=%d\n",
					t.Enqueued, t.FlushRuns, t.FlushedProcessed, t.FlushedSucceeded, t.FlushedFailed, t.PendingCount)
				if t.LastFailureMessage != "" {
					fmt.Fprintf(w, "last_failure=%s at %s\n", t.LastFailureMessage, t.LastFailureAt.Format(time.RFC3339))
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, ev := range t.Events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.At.Format(time.RFC3339), ev.Kind, ev.DedupeKey, ev.Message)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (c *cli) resetTelemetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-telemetry",
		Short: "Clear telemetry counters and events",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			return s.outbox.ResetTelemetry(cmd.Context())
		},
	}
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every queued record of the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireActor(); err != nil {
				return err
			}
			s, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			removed, err := s.outbox.Purge(cmd.Context(), c.cfg.ActorUID)
			if perr := c.print(map[string]int{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "removed=%d\n", removed)
			}); perr != nil {
				return perr
			}

			return err
		},
	}
}

func (c *cli) printRecords(records []outbox.Record) error {
	if records == nil {
		records = []outbox.Record{}
	}

	return c.print(records, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tDEDUPE KEY\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ID, r.Type, r.DedupeKey, r.Attempts, r.NextAttemptAt.Format(time.RFC3339), r.LastError)
		}
		_ = tw.Flush()
	})
}

func (c *cli) print(v any, text func(w io.Writer)) error {
	if c.format == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}
	text(c.out)

	return nil
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/wabridge/bridge"
	"github.com/quailyquaily/wabridge/internal/archive"
	"github.com/quailyquaily/wabridge/internal/configutil"
	"github.com/quailyquaily/wabridge/internal/logutil"
	"github.com/quailyquaily/wabridge/internal/mediastore"
	"github.com/quailyquaily/wabridge/internal/pathutil"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the bridge and stream inbound events to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.FromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := archive.Open(pathutil.ExpandHomePath(viper.GetString("archive.path")))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			opts := engineOptionsFromViper(cmd, logger)
			eng, err := bridge.New(opts, engineDependencies(cmd, store, logger))
			if err != nil {
				return err
			}

			if retention := viper.GetDuration("media.retention"); retention > 0 && opts.MediaRoot != "" {
				sweeper := mediastore.New(opts.MediaRoot, logger)
				go sweeper.Run(ctx, viper.GetDuration("media.cleanup_interval"), retention)
			}

			logger.Info("wabridge_starting", "url", opts.URL)
			return eng.Run(ctx)
		},
	}

	addEngineFlags(cmd)
	return cmd
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Bridge socket URL (overrides bridge.url).")
	cmd.Flags().String("token", "", "Bridge auth token (overrides bridge.token).")
	cmd.Flags().String("account", "", "Account id attached to commands (overrides bridge.account_id).")
	cmd.Flags().Bool("auto-repair", false, "Run bridge.repair_command once on handshake failure (overrides bridge.auto_repair).")
	cmd.Flags().Int("workers", 0, "Inbound pipeline workers (overrides workers).")
}

func engineOptionsFromViper(cmd *cobra.Command, logger *slog.Logger) bridge.Options {
	return bridge.Options{
		URL:             configutil.FlagOrViperString(cmd, "url", "bridge.url"),
		Token:           configutil.FlagOrViperString(cmd, "token", "bridge.token"),
		AccountID:       configutil.FlagOrViperString(cmd, "account", "bridge.account_id"),
		MaxPayloadBytes: viper.GetInt64("bridge.max_payload_bytes"),
		StartupTimeout:  viper.GetDuration("bridge.startup_timeout"),
		CommandTimeout:  viper.GetDuration("bridge.command_timeout"),
		AutoRepair:      configutil.FlagOrViperBool(cmd, "auto-repair", "bridge.auto_repair"),
		Reconnect: bridge.ReconnectPolicy{
			MaxAttempts:  viper.GetInt("reconnect.max_attempts"),
			InitialDelay: viper.GetDuration("reconnect.initial_delay"),
			Factor:       viper.GetFloat64("reconnect.factor"),
			MaxDelay:     viper.GetDuration("reconnect.max_delay"),
			Jitter:       viper.GetFloat64("reconnect.jitter"),
		},
		DedupeTTL:           viper.GetDuration("dedupe.ttl"),
		DedupeMaxEntries:    viper.GetInt("dedupe.max_entries"),
		DedupeSweepInterval: viper.GetDuration("dedupe.sweep_interval"),
		DebounceInterval:    viper.GetDuration("debounce.interval"),
		DebounceMaxBuckets:  viper.GetInt("debounce.max_buckets"),
		MediaRoot:           pathutil.ExpandHomePath(viper.GetString("media.storage_root")),
		DescribeMaxBytes:    viper.GetInt64("media.describe_max_bytes"),
		Presence: bridge.PresenceOptions{
			Enabled:     viper.GetBool("presence.enabled"),
			Interval:    viper.GetDuration("presence.interval"),
			MaxDuration: viper.GetDuration("presence.max_duration"),
		},
		Workers: configutil.FlagOrViperInt(cmd, "workers", "workers"),
		Logger:  logger,
	}
}

func engineDependencies(cmd *cobra.Command, store *archive.Store, logger *slog.Logger) bridge.Dependencies {
	var outMu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())

	deps := bridge.Dependencies{
		Publish: func(ctx context.Context, ev *bridge.InboundEvent) {
			outMu.Lock()
			defer outMu.Unlock()
			if err := enc.Encode(ev); err != nil {
				logger.Warn("event_emit_failed", "error", err)
				return
			}
			logger.Info("event_published", "chat_jid", ev.ChatJID, "sender_id", ev.SenderID, "message_id", ev.MessageID)
		},
		ArchiveEvent: store.RecordEvent,
		HasArchived:  store.Has,
	}

	if repair := strings.TrimSpace(viper.GetString("bridge.repair_command")); repair != "" {
		deps.Repair = func(ctx context.Context) error {
			logger.Info("bridge_repair_running", "command", repair)
			c := exec.CommandContext(ctx, "/bin/sh", "-c", repair)
			out, err := c.CombinedOutput()
			if len(out) > 0 {
				logger.Debug("bridge_repair_output", "output", strings.TrimSpace(string(out)))
			}
			return err
		}
	}

	if describe := strings.TrimSpace(viper.GetString("media.describe_command")); describe != "" {
		deps.DescribeImage = func(ctx context.Context, path string) (string, error) {
			c := exec.CommandContext(ctx, "/bin/sh", "-c", describe+" "+shellQuote(path))
			out, err := c.Output()
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(out)), nil
		}
	}

	return deps
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

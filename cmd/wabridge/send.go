package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/wabridge/bridge"
	"github.com/quailyquaily/wabridge/internal/configutil"
	"github.com/quailyquaily/wabridge/internal/logutil"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message through the bridge and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			text, _ := cmd.Flags().GetString("text")
			if strings.TrimSpace(to) == "" || strings.TrimSpace(text) == "" {
				return fmt.Errorf("--to and --text are required")
			}

			logger, err := logutil.FromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := engineOptionsFromViper(cmd, logger)
			// One-shot use: no typing chatter before a single send.
			opts.Presence.Enabled = false
			eng, err := bridge.New(opts, bridge.Dependencies{})
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			runDone := make(chan error, 1)
			go func() { runDone <- eng.Run(runCtx) }()

			timeout := configutil.FlagOrViperDuration(cmd, "timeout", "bridge.command_timeout")
			waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
			err = eng.WaitConnected(waitCtx)
			waitCancel()
			if err != nil {
				cancel()
				if rerr := <-runDone; rerr != nil {
					return rerr
				}
				return fmt.Errorf("connect to bridge: %w", err)
			}

			id, sendErr := eng.SendText(ctx, to, text)
			cancel()
			<-runDone
			if sendErr != nil {
				return sendErr
			}
			if id != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", id)
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "sent")
			}
			return nil
		},
	}

	addEngineFlags(cmd)
	cmd.Flags().String("to", "", "Destination chat JID.")
	cmd.Flags().String("text", "", "Message text (markdown supported).")
	cmd.Flags().Duration("timeout", 0, "Connect/send timeout (overrides bridge.command_timeout).")
	return cmd
}

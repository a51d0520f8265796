package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/wabridge/internal/archive"
	"github.com/quailyquaily/wabridge/internal/configutil"
	"github.com/quailyquaily/wabridge/internal/pathutil"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived messages for a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, _ := cmd.Flags().GetString("chat")
			if strings.TrimSpace(chat) == "" {
				return fmt.Errorf("--chat is required")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			path := pathutil.ExpandHomePath(configutil.FlagOrViperString(cmd, "archive", "archive.path"))
			store, err := archive.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			msgs, err := store.Recent(cmd.Context(), chat, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, m := range msgs {
					if err := enc.Encode(m); err != nil {
						return err
					}
				}
				return nil
			}

			for _, m := range msgs {
				marker := ""
				if m.Synthetic {
					marker = " (backfilled)"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s%s: %s\n",
					m.Timestamp.Format(time.RFC3339), m.SenderID, marker, m.Text)
			}
			return nil
		},
	}

	cmd.Flags().String("chat", "", "Chat JID to list.")
	cmd.Flags().Int("limit", 20, "Maximum messages to show.")
	cmd.Flags().Bool("json", false, "Emit JSON lines instead of text.")
	cmd.Flags().String("archive", "", "Archive database path (overrides archive.path).")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/wabridge/internal/pathutil"
)

const configTemplate = `# wabridge configuration

bridge:
  # ws://, wss://, tcp:// or unix:// endpoint of the bridge process.
  url: "ws://127.0.0.1:8777/ws"
  token: ""
  account_id: ""
  startup_timeout: 15s
  command_timeout: 30s
  # When true, repair_command runs once if the startup handshake fails.
  auto_repair: false
  repair_command: ""

reconnect:
  # 0 retries forever.
  max_attempts: 0
  initial_delay: 1s
  factor: 2.0
  max_delay: 60s
  jitter: 0.2

dedupe:
  ttl: 10m
  max_entries: 4096
  sweep_interval: 1m

debounce:
  # 0s publishes every message immediately.
  interval: 2s
  max_buckets: 256

media:
  storage_root: "~/.wabridge/media"
  # Shell command receiving an image path, printing a short description.
  describe_command: ""
  describe_max_bytes: 16777216
  # 0s keeps media forever.
  retention: 0s
  cleanup_interval: 1h

presence:
  enabled: true
  interval: 4s
  max_duration: 60s

archive:
  path: "~/.wabridge/archive.sqlite"

workers: 8

logging:
  level: "info"
  format: "text"
  add_source: false
  file: ""
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter config.yaml and create the state directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "~/.wabridge/"
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = args[0]
			}
			dir = pathutil.ExpandHomePath(dir)
			if strings.TrimSpace(dir) == "" {
				return fmt.Errorf("invalid dir")
			}
			dir = filepath.Clean(dir)

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, "media"), 0o755); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			body := patchInitTemplate(configTemplate, dir)
			if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", dir)
			return nil
		},
	}
}

func patchInitTemplate(cfg, dir string) string {
	dir = filepath.ToSlash(filepath.Clean(dir))
	cfg = strings.ReplaceAll(cfg, `"~/.wabridge/media"`, fmt.Sprintf("%q", dir+"/media"))
	cfg = strings.ReplaceAll(cfg, `"~/.wabridge/archive.sqlite"`, fmt.Sprintf("%q", dir+"/archive.sqlite"))
	return cfg
}

package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	viper.SetDefault("bridge.url", "ws://127.0.0.1:8777/ws")
	viper.SetDefault("bridge.token", "")
	viper.SetDefault("bridge.account_id", "")
	viper.SetDefault("bridge.max_payload_bytes", int64(8*1024*1024))
	viper.SetDefault("bridge.startup_timeout", 15*time.Second)
	viper.SetDefault("bridge.command_timeout", 30*time.Second)
	viper.SetDefault("bridge.auto_repair", false)
	viper.SetDefault("bridge.repair_command", "")

	viper.SetDefault("reconnect.max_attempts", 0)
	viper.SetDefault("reconnect.initial_delay", 1*time.Second)
	viper.SetDefault("reconnect.factor", 2.0)
	viper.SetDefault("reconnect.max_delay", 60*time.Second)
	viper.SetDefault("reconnect.jitter", 0.2)

	viper.SetDefault("dedupe.ttl", 10*time.Minute)
	viper.SetDefault("dedupe.max_entries", 4096)
	viper.SetDefault("dedupe.sweep_interval", 1*time.Minute)

	viper.SetDefault("debounce.interval", 2*time.Second)
	viper.SetDefault("debounce.max_buckets", 256)

	viper.SetDefault("media.storage_root", "~/.wabridge/media")
	viper.SetDefault("media.describe_command", "")
	viper.SetDefault("media.describe_max_bytes", int64(16*1024*1024))
	viper.SetDefault("media.retention", time.Duration(0))
	viper.SetDefault("media.cleanup_interval", 1*time.Hour)

	viper.SetDefault("presence.enabled", true)
	viper.SetDefault("presence.interval", 4*time.Second)
	viper.SetDefault("presence.max_duration", 60*time.Second)

	viper.SetDefault("archive.path", "~/.wabridge/archive.sqlite")

	viper.SetDefault("workers", 8)
}

package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level          string
	Format         string
	AddSource      bool
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
}

func FromViper() (*slog.Logger, error) {
	cfg := Config{
		Level:          viper.GetString("logging.level"),
		Format:         viper.GetString("logging.format"),
		AddSource:      viper.GetBool("logging.add_source"),
		File:           viper.GetString("logging.file"),
		FileMaxSizeMB:  viper.GetInt("logging.file_max_size_mb"),
		FileMaxBackups: viper.GetInt("logging.file_max_backups"),
	}
	if !viper.IsSet("logging.level") && viper.GetBool("verbose") {
		cfg.Level = "debug"
	}
	return New(cfg)
}

func New(cfg Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if strings.TrimSpace(cfg.File) != "" {
		maxSize := cfg.FileMaxSizeMB
		if maxSize <= 0 {
			maxSize = 20
		}
		backups := cfg.FileMaxBackups
		if backups <= 0 {
			backups = 3
		}
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   true,
		}
	}
	return newWithWriter(cfg, w)
}

func newWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown logging.format: %s", cfg.Format)
	}

	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging.level: %s", s)
	}
}

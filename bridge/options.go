package bridge

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultMaxPayloadBytes = 8 << 20

	DefaultStartupTimeout = 15 * time.Second
	DefaultCommandTimeout = 30 * time.Second

	DefaultReconnectInitialDelay = 1 * time.Second
	DefaultReconnectFactor       = 2.0
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultReconnectJitter       = 0.2

	DefaultDedupeTTL           = 10 * time.Minute
	DefaultDedupeMaxEntries    = 4096
	DefaultDedupeSweepInterval = 1 * time.Minute

	DefaultDebounceInterval   = 2 * time.Second
	DefaultDebounceMaxBuckets = 256

	DefaultDescribeMaxBytes = 16 << 20

	DefaultPresenceInterval    = 4 * time.Second
	DefaultPresenceMaxDuration = 60 * time.Second

	DefaultWorkers = 8
)

const (
	minReconnectDelay  = 100 * time.Millisecond
	minReconnectFactor = 1.1
)

// ReconnectPolicy controls the exponential backoff between connection
// attempts. MaxAttempts of zero retries forever.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       float64
}

// PresenceOptions controls typing indicator refresh. Enabled must be set
// explicitly; the engine never sends presence updates when it is false.
type PresenceOptions struct {
	Enabled     bool
	Interval    time.Duration
	MaxDuration time.Duration
}

type Options struct {
	// URL locates the bridge socket: ws://, wss://, tcp:// or unix://.
	URL string
	// Token is attached to every command envelope.
	Token     string
	AccountID string

	// MaxPayloadBytes caps a single inbound frame. Oversized frames abort
	// the read and trigger a reconnect.
	MaxPayloadBytes int64

	// StartupTimeout bounds the post-dial health check.
	StartupTimeout time.Duration
	// CommandTimeout bounds every other request/response round trip.
	CommandTimeout time.Duration

	// AutoRepair lets the engine invoke Dependencies.Repair once per
	// startup sequence when the handshake fails in a repairable way.
	AutoRepair bool

	Reconnect ReconnectPolicy

	DedupeTTL           time.Duration
	DedupeMaxEntries    int
	DedupeSweepInterval time.Duration

	DebounceInterval   time.Duration
	DebounceMaxBuckets int

	// MediaRoot is the directory the bridge stores received media under.
	// Media paths outside this root are rejected during enrichment.
	MediaRoot string
	// DescribeMaxBytes caps the file size handed to the image describer.
	DescribeMaxBytes int64

	Presence PresenceOptions

	// Workers sizes the inbound event worker pool.
	Workers int

	Logger *slog.Logger
}

func normalizeOptions(opts Options) Options {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	opts.Reconnect = normalizeReconnectPolicy(opts.Reconnect)
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}
	if opts.DedupeMaxEntries <= 0 {
		opts.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if opts.DedupeSweepInterval <= 0 {
		opts.DedupeSweepInterval = DefaultDedupeSweepInterval
	}
	if opts.DebounceMaxBuckets <= 0 {
		opts.DebounceMaxBuckets = DefaultDebounceMaxBuckets
	}
	if opts.DescribeMaxBytes <= 0 {
		opts.DescribeMaxBytes = DefaultDescribeMaxBytes
	}
	if opts.Presence.Interval <= 0 {
		opts.Presence.Interval = DefaultPresenceInterval
	}
	if opts.Presence.MaxDuration <= 0 {
		opts.Presence.MaxDuration = DefaultPresenceMaxDuration
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

func normalizeReconnectPolicy(p ReconnectPolicy) ReconnectPolicy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultReconnectInitialDelay
	}
	if p.InitialDelay < minReconnectDelay {
		p.InitialDelay = minReconnectDelay
	}
	if p.Factor == 0 {
		p.Factor = DefaultReconnectFactor
	}
	if p.Factor < minReconnectFactor {
		p.Factor = minReconnectFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultReconnectMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Dependencies are the host-provided hooks the engine calls out to. All
// fields are optional; nil hooks degrade to no-ops (Publish drops events,
// DescribeImage skips enrichment, Repair disables auto repair).
type Dependencies struct {
	// Publish delivers a fully processed inbound event to the host.
	Publish func(ctx context.Context, ev *InboundEvent)
	// DescribeImage turns a local image file into a short caption.
	DescribeImage func(ctx context.Context, path string) (string, error)
	// ArchiveEvent records an inbound event for history lookups.
	ArchiveEvent func(ctx context.Context, ev *InboundEvent) error
	// HasArchived reports whether a message is already archived.
	HasArchived func(ctx context.Context, chatID, messageID string) (bool, error)
	// Repair attempts to restore a broken bridge (rebuild, restart).
	Repair func(ctx context.Context) error
}

func publishFromDeps(d Dependencies, ctx context.Context, ev *InboundEvent) {
	if d.Publish == nil {
		return
	}
	d.Publish(ctx, ev)
}

func describeImageFromDeps(d Dependencies, ctx context.Context, path string) (string, error) {
	if d.DescribeImage == nil {
		return "", nil
	}
	return d.DescribeImage(ctx, path)
}

func archiveEventFromDeps(d Dependencies, ctx context.Context, ev *InboundEvent) error {
	if d.ArchiveEvent == nil {
		return nil
	}
	return d.ArchiveEvent(ctx, ev)
}

func hasArchivedFromDeps(d Dependencies, ctx context.Context, chatID, messageID string) (bool, error) {
	if d.HasArchived == nil {
		return false, nil
	}
	return d.HasArchived(ctx, chatID, messageID)
}

func repairFromDeps(d Dependencies, ctx context.Context) error {
	if d.Repair == nil {
		return nil
	}
	return d.Repair(ctx)
}

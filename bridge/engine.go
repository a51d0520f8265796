// Package bridge implements the client engine for a chat bridge socket:
// it keeps a health-checked connection alive with jittered reconnects,
// correlates command responses to their requests, and turns raw message
// frames into deduplicated, debounced inbound events for the host.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quailyquaily/wabridge/internal/worker"
)

type Engine struct {
	opts Options
	deps Dependencies
	log  *slog.Logger

	mu          sync.Mutex
	conn        frameConn
	connected   bool
	connectedCh chan struct{}
	runCtx      context.Context
	running     bool

	// sendMu serializes frame writes so concurrent commands never
	// interleave and wire order matches call order.
	sendMu sync.Mutex

	pending  *pendingSet
	dedupe   *dedupeCache
	debounce *debouncer
	jobs     chan json.RawMessage

	presenceMu       sync.Mutex
	typing           map[string]*typingSession
	presenceDisabled bool

	decodeWarn *rate.Limiter
	evictWarn  *rate.Limiter
}

func New(opts Options, deps Dependencies) (*Engine, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("bridge: url is required")
	}
	opts = normalizeOptions(opts)
	e := &Engine{
		opts:        opts,
		deps:        deps,
		log:         opts.Logger,
		connectedCh: make(chan struct{}),
		pending:     newPendingSet(),
		typing:      make(map[string]*typingSession),
		jobs:        make(chan json.RawMessage, inboundQueueSize(opts.Workers)),
		decodeWarn:  rate.NewLimiter(rate.Every(3*time.Second), 5),
		evictWarn:   rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
	e.dedupe = newDedupeCache(opts.DedupeTTL, opts.DedupeMaxEntries)
	e.debounce = newDebouncer(opts.DebounceInterval, opts.DebounceMaxBuckets, e.emitEvent, e.log)
	return e, nil
}

func inboundQueueSize(workers int) int {
	if n := workers * 8; n > 64 {
		return n
	}
	return 64
}

// Run connects to the bridge and processes frames until ctx is canceled.
// It returns nil on cancellation, a StartupError when the handshake fails
// for good (after at most one repair attempt), and a plain error when the
// reconnect attempt cap is exhausted.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("bridge: engine already running")
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.mu.Unlock()

	defer func() {
		cancel()
		e.shutdown()
		e.mu.Lock()
		e.running = false
		e.runCtx = nil
		e.mu.Unlock()
	}()

	worker.Start(worker.StartOptions[json.RawMessage]{
		Ctx:     runCtx,
		Workers: e.opts.Workers,
		Jobs:    e.jobs,
		Handle:  e.handleInbound,
	})
	go e.sweepLoop(runCtx)

	attempt := 0
	repairTried := false
	for {
		if runCtx.Err() != nil {
			return nil
		}

		readerDone, err := e.connectOnce(runCtx)
		if err != nil && runCtx.Err() != nil {
			return nil
		}
		switch e.classifyStartup(err, repairTried) {
		case startupRepairAndRetry:
			repairTried = true
			e.log.Warn("bridge_repair_attempt", "error", err)
			if rerr := repairFromDeps(e.deps, runCtx); rerr != nil {
				e.log.Warn("bridge_repair_failed", "error", rerr)
			} else {
				e.log.Info("bridge_repair_done")
			}
			continue
		case startupFatal:
			return &StartupError{Stage: "handshake", Err: err}
		}

		attempt = 0
		repairTried = false
		e.log.Info("bridge_connected", "url", e.opts.URL)

		select {
		case <-runCtx.Done():
			e.teardownConn("engine stopped")
			<-readerDone
			return nil
		case rerr := <-readerDone:
			e.teardownConn("connection lost")
			if rerr != nil && runCtx.Err() == nil {
				e.log.Warn("bridge_read_failed", "error", rerr)
			}
		}

		if runCtx.Err() != nil {
			return nil
		}

		attempt++
		if limit := e.opts.Reconnect.MaxAttempts; limit > 0 && attempt > limit {
			return fmt.Errorf("bridge: giving up after %d reconnect attempts", limit)
		}
		delay := reconnectDelay(e.opts.Reconnect, attempt)
		e.log.Info("bridge_reconnect_scheduled", "attempt", attempt, "delay", delay)
		if err := sleepWithContext(runCtx, delay); err != nil {
			return nil
		}
	}
}

// startupOutcome classifies one startup sequence for Run's state
// transitions. Handshake failures never reach the reconnect loop: they
// either earn the single repair attempt or end the run.
type startupOutcome int

const (
	startupOK startupOutcome = iota
	startupRepairAndRetry
	startupFatal
)

func (e *Engine) classifyStartup(err error, repairTried bool) startupOutcome {
	switch {
	case err == nil:
		return startupOK
	case e.opts.AutoRepair && !repairTried && e.deps.Repair != nil && repairableStartup(err):
		return startupRepairAndRetry
	default:
		return startupFatal
	}
}

// connectOnce runs one full startup sequence: dial, spawn the reader,
// health handshake. On success the returned channel yields the reader's
// exit error when the connection dies.
func (e *Engine) connectOnce(ctx context.Context) (chan error, error) {
	dialCtx, cancel := context.WithTimeout(ctx, e.opts.StartupTimeout)
	conn, err := dialBridge(dialCtx, e.opts.URL, e.opts.MaxPayloadBytes)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	readerDone := make(chan error, 1)
	go func() { readerDone <- e.readLoop(conn) }()

	if err := e.healthCheck(ctx); err != nil {
		e.teardownConn("handshake failed")
		<-readerDone
		return nil, err
	}

	e.mu.Lock()
	e.connected = true
	close(e.connectedCh)
	e.mu.Unlock()
	e.resetPresenceSupport()
	return readerDone, nil
}

// healthCheck sends the initial health command and verifies the bridge
// speaks exactly this client's protocol version.
func (e *Engine) healthCheck(ctx context.Context) error {
	result, err := e.call(ctx, TypeHealth, map[string]any{}, e.opts.StartupTimeout)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	v, ok := resultInt(result, "protocolVersion")
	if !ok {
		v, ok = resultInt(result, "version")
	}
	if !ok {
		return fmt.Errorf("%w: health response carries no protocol version", ErrVersionMismatch)
	}
	if v != ProtocolVersionV1 {
		return fmt.Errorf("%w: bridge speaks v%d, this client speaks v%d", ErrVersionMismatch, v, ProtocolVersionV1)
	}
	return nil
}

// WaitConnected blocks until the engine has a handshaked connection or
// ctx ends.
func (e *Engine) WaitConnected(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.connected {
			e.mu.Unlock()
			return nil
		}
		ch := e.connectedCh
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

// call issues one command and awaits the matching response.
func (e *Engine) call(ctx context.Context, typ string, payload any, timeout time.Duration) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	id := uuid.NewString()
	ch := e.pending.register(id)
	env := Envelope{
		Version:   ProtocolVersionV1,
		Type:      typ,
		Token:     e.opts.Token,
		RequestID: id,
		AccountID: e.opts.AccountID,
		Payload:   body,
	}
	if err := e.writeEnvelope(env); err != nil {
		e.pending.drop(id)
		return nil, err
	}

	tctx, cancel := withTimeoutIfNeeded(ctx, timeout)
	defer cancel()
	select {
	case reply := <-ch:
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	case <-tctx.Done():
		e.pending.drop(id)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: no %s response within %s", ErrCommandTimeout, typ, timeout)
	}
}

func (e *Engine) writeEnvelope(env Envelope) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return conn.WriteFrame(frame)
}

func (e *Engine) readLoop(conn frameConn) error {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		e.routeFrame(frame)
	}
}

func (e *Engine) routeFrame(frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		if e.decodeWarn.Allow() {
			e.log.Warn("frame_dropped", "reason", "malformed", "error", err)
		}
		return
	}
	if env.Version != ProtocolVersionV1 {
		if e.decodeWarn.Allow() {
			if env.Version == 0 {
				e.log.Warn("frame_dropped", "reason", "missing_version", "type", env.Type, "hint", "bridge build may be stale")
			} else {
				e.log.Warn("frame_dropped", "reason", "version_mismatch", "type", env.Type, "version", env.Version)
			}
		}
		return
	}

	switch env.Type {
	case TypeResponse:
		if env.RequestID == "" || !e.pending.resolve(env.RequestID, decodeCommandReply(env.Payload)) {
			e.log.Debug("response_unmatched", "request_id", env.RequestID)
		}
	case TypeMessage:
		ctx := e.runContext()
		if ctx == nil {
			return
		}
		if err := worker.Enqueue(ctx, e.jobs, env.Payload); err != nil {
			e.log.Warn("inbound_enqueue_failed", "error", err)
		}
	case TypeStatus:
		e.log.Info("bridge_status", "status", statusOf(env.Payload))
	case TypeQR:
		e.log.Info("bridge_qr", "payload", string(env.Payload))
	case TypeError:
		e.log.Warn("bridge_error", "payload", string(env.Payload))
	default:
		e.log.Debug("frame_ignored", "type", env.Type)
	}
}

func statusOf(payload []byte) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Status != "" {
		return body.Status
	}
	return strings.TrimSpace(string(payload))
}

// handleInbound runs the full pipeline for one message payload: parse,
// dedupe, enrich, archive, then hand to the debouncer.
func (e *Engine) handleInbound(ctx context.Context, payload json.RawMessage) {
	now := time.Now().UTC()
	ev, err := parseInboundEvent(payload, now)
	if err != nil {
		if e.decodeWarn.Allow() {
			e.log.Warn("message_dropped", "error", err)
		}
		return
	}

	admitted, evicted := e.dedupe.Admit(ev.dedupeKey(), now)
	if evicted && e.evictWarn.Allow() {
		e.log.Warn("dedupe_capacity_eviction", "max_entries", e.opts.DedupeMaxEntries)
	}
	if !admitted {
		e.log.Debug("message_duplicate", "chat_jid", ev.ChatJID, "message_id", ev.MessageID)
		return
	}

	e.enrichMedia(ctx, ev)
	e.archiveInbound(ctx, ev)
	e.debounce.Offer(ev)
}

// archiveInbound is best-effort: failures are logged, never escalated.
// When the event quotes a message never captured, a synthetic record is
// back-filled so later reply lookups still resolve.
func (e *Engine) archiveInbound(ctx context.Context, ev *InboundEvent) {
	if e.deps.ArchiveEvent == nil {
		return
	}
	if err := archiveEventFromDeps(e.deps, ctx, ev); err != nil {
		e.log.Warn("archive_failed", "chat_jid", ev.ChatJID, "message_id", ev.MessageID, "error", err)
	}

	if ev.ReplyToMessageID == "" || strings.TrimSpace(ev.ReplyToText) == "" {
		return
	}
	if e.deps.HasArchived != nil {
		found, err := hasArchivedFromDeps(e.deps, ctx, ev.ChatJID, ev.ReplyToMessageID)
		if err != nil {
			e.log.Warn("archive_lookup_failed", "chat_jid", ev.ChatJID, "message_id", ev.ReplyToMessageID, "error", err)
			return
		}
		if found {
			return
		}
	}
	quoted := synthesizeQuotedEvent(ev, e.opts.AccountID)
	if err := archiveEventFromDeps(e.deps, ctx, quoted); err != nil {
		e.log.Warn("archive_backfill_failed", "chat_jid", ev.ChatJID, "message_id", ev.ReplyToMessageID, "error", err)
	}
}

func (e *Engine) emitEvent(ev *InboundEvent) {
	ctx := e.runContext()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	publishFromDeps(e.deps, ctx, ev)
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.DedupeSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.dedupe.Sweep(time.Now().UTC()); n > 0 {
				e.log.Debug("dedupe_swept", "removed", n, "remaining", e.dedupe.Len())
			}
		}
	}
}

// teardownConn closes the current connection and fails every in-flight
// command. Safe to call more than once.
func (e *Engine) teardownConn(reason string) {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	if e.connected {
		e.connected = false
		e.connectedCh = make(chan struct{})
	}
	e.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if n := e.pending.failAll(fmt.Errorf("%w: %s", ErrConnectionClosed, reason)); n > 0 {
		e.log.Debug("pending_commands_failed", "count", n, "reason", reason)
	}
}

// shutdown tears the engine down in dependency order: typing sessions,
// buffered debounce state, then the socket with its pending commands.
func (e *Engine) shutdown() {
	e.stopAllTyping()
	e.debounce.Reset()
	e.teardownConn("engine stopped")
	e.dedupe.Reset()
}

package bridge

import (
	"log/slog"
	"sync"
	"time"
)

type debounceBucket struct {
	events []*InboundEvent
	gen    uint64
	timer  *time.Timer
}

// debouncer buffers rapid message bursts per (chat, sender) and publishes
// them merged once the sender pauses for the configured interval. Media
// events skip buffering and go straight through. When the bucket table is
// full, new conversations degrade to immediate publishing.
type debouncer struct {
	mu         sync.Mutex
	interval   time.Duration
	maxBuckets int
	buckets    map[string]*debounceBucket
	seq        uint64
	overflows  uint64
	publish    func(*InboundEvent)
	log        *slog.Logger
}

func newDebouncer(interval time.Duration, maxBuckets int, publish func(*InboundEvent), log *slog.Logger) *debouncer {
	return &debouncer{
		interval:   interval,
		maxBuckets: maxBuckets,
		buckets:    make(map[string]*debounceBucket),
		publish:    publish,
		log:        log,
	}
}

func (d *debouncer) Offer(ev *InboundEvent) {
	if d.interval <= 0 || ev.Media != nil {
		d.publish(ev)
		return
	}

	key := ev.bucketKey()
	d.mu.Lock()
	b, ok := d.buckets[key]
	if !ok {
		if len(d.buckets) >= d.maxBuckets {
			d.overflows++
			n := d.overflows
			d.mu.Unlock()
			if n == 1 || n%100 == 0 {
				d.log.Warn("debounce_overflow", "max_buckets", d.maxBuckets, "occurrences", n)
			}
			d.publish(ev)
			return
		}
		b = &debounceBucket{}
		d.buckets[key] = b
	}
	b.events = append(b.events, ev)
	if b.timer != nil {
		b.timer.Stop()
	}
	d.seq++
	gen := d.seq
	b.gen = gen
	b.timer = time.AfterFunc(d.interval, func() { d.flush(key, gen) })
	d.mu.Unlock()
}

// flush publishes the bucket only when gen still matches, so a timer that
// lost a Stop race with a newer arrival becomes a no-op.
func (d *debouncer) flush(key string, gen uint64) {
	d.mu.Lock()
	b, ok := d.buckets[key]
	if !ok || b.gen != gen {
		d.mu.Unlock()
		return
	}
	events := b.events
	delete(d.buckets, key)
	d.mu.Unlock()

	if merged := mergeInboundEvents(events); merged != nil {
		d.publish(merged)
	}
}

// Reset stops all timers and drops buffered events.
func (d *debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.buckets {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	d.buckets = make(map[string]*debounceBucket)
}

// Pending returns how many events are still buffered.
func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.buckets {
		n += len(b.events)
	}
	return n
}

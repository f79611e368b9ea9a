package message

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/observability"
)

const (
	EventCollision observability.EventType = "message.collision"
	EventLoop      observability.EventType = "message.loop"
)

// HistoryEntry is one slot of the diagnostics ring buffer. Fields holds the
// message fields selected by TrackingConfig.Fields.
type HistoryEntry struct {
	Hash      string         `json:"hash"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Report describes what Track observed about one message.
type Report struct {
	Hash         string
	Collision    bool
	LoopCount    int
	LoopExceeded bool
}

// Snapshot is a JSON-friendly copy of the diagnostics state.
type Snapshot struct {
	History    []HistoryEntry      `json:"history"`
	Collisions map[string][]string `json:"collisions"`
	Loops      map[string]int      `json:"loops"`
}

type seenEntry struct {
	attributes string
	refs       int
}

// Diagnostics tracks message history, hash collisions, and reprocessing
// loops for one process (or one test). Anomalies are logged and reported
// but never change control flow. Safe for concurrent use.
type Diagnostics struct {
	mu  sync.Mutex
	cfg config.TrackingConfig

	history []HistoryEntry
	next    int
	full    bool
	seen    map[string]*seenEntry

	collisions map[string][]string
	loops      map[string][]time.Time

	logger   *slog.Logger
	observer observability.Observer
	now      func() time.Time
}

// NewDiagnostics creates an empty registry. A nil logger falls back to
// slog.Default and a nil observer to NoOpObserver.
func NewDiagnostics(cfg config.TrackingConfig, logger *slog.Logger, observer observability.Observer) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	d := &Diagnostics{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
	d.reset()
	return d
}

// UseClock replaces the time source used for loop windows.
func (d *Diagnostics) UseClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Configure swaps the tracking configuration and clears all tracked state.
func (d *Diagnostics) Configure(cfg config.TrackingConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg
	d.reset()
}

func (d *Diagnostics) Config() config.TrackingConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Clear drops history, collisions, and loop counters.
func (d *Diagnostics) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *Diagnostics) reset() {
	d.history = make([]HistoryEntry, max(d.cfg.MaxHistory, 0))
	d.next = 0
	d.full = false
	d.seen = make(map[string]*seenEntry)
	d.collisions = make(map[string][]string)
	d.loops = make(map[string][]time.Time)
}

// Track records m. A nil receiver or disabled config tracks nothing.
func (d *Diagnostics) Track(ctx context.Context, m Message) Report {
	if d == nil || m == nil {
		return Report{}
	}

	hash := m.Hash()
	report := Report{Hash: hash}

	d.mu.Lock()
	if d.cfg.Disabled {
		d.mu.Unlock()
		return report
	}

	attrs := SerializeAttributes(m)
	now := d.now()

	var collided []string
	if entry, ok := d.seen[hash]; ok && entry.attributes != attrs {
		report.Collision = true
		collided = d.recordCollision(hash, entry.attributes, attrs)
	}

	d.push(HistoryEntry{Hash: hash, Timestamp: m.Timestamp(), Fields: d.fields(m)}, attrs)

	key := hash
	if d.cfg.LoopKey != config.LoopKeyHash {
		key = ContentKey(m)
	}
	report.LoopCount = d.observeLoop(key, now)
	report.LoopExceeded = d.cfg.MaxLoopDepth > 0 && report.LoopCount > d.cfg.MaxLoopDepth
	d.mu.Unlock()

	if report.Collision {
		d.logger.WarnContext(ctx, "message hash collision",
			slog.String("hash", hash),
			slog.String("name", m.Name()),
			slog.Int("variants", len(collided)),
		)
		observability.Emit(ctx, d.observer, EventCollision, observability.LevelWarning, m.Name(), map[string]any{
			"hash":     hash,
			"variants": len(collided),
		})
	}

	if report.LoopExceeded {
		d.logger.ErrorContext(ctx, "message loop depth exceeded",
			slog.String("name", m.Name()),
			slog.String("from", m.From().String()),
			slog.Int("count", report.LoopCount),
			slog.Int("max_loop_depth", d.cfg.MaxLoopDepth),
		)
		observability.Emit(ctx, d.observer, EventLoop, observability.LevelError, m.Name(), map[string]any{
			"key":   key,
			"count": report.LoopCount,
		})
	}

	return report
}

// recordCollision stores both attribute sets under hash, bounded by
// MaxCollisions distinct hashes. It returns the variants now on record.
func (d *Diagnostics) recordCollision(hash, first, current string) []string {
	variants, exists := d.collisions[hash]
	if !exists && len(d.collisions) >= d.cfg.MaxCollisions {
		return []string{first, current}
	}
	if !exists {
		variants = []string{first}
	}
	if !slices.Contains(variants, current) {
		variants = append(variants, current)
	}
	d.collisions[hash] = variants
	return variants
}

func (d *Diagnostics) push(entry HistoryEntry, attrs string) {
	if len(d.history) == 0 {
		return
	}

	if d.full {
		d.release(d.history[d.next].Hash)
	}

	d.history[d.next] = entry
	d.next = (d.next + 1) % len(d.history)
	if d.next == 0 {
		d.full = true
	}

	if seen, ok := d.seen[entry.Hash]; ok {
		seen.refs++
	} else {
		d.seen[entry.Hash] = &seenEntry{attributes: attrs, refs: 1}
	}
}

func (d *Diagnostics) release(hash string) {
	seen, ok := d.seen[hash]
	if !ok {
		return
	}
	seen.refs--
	if seen.refs <= 0 {
		delete(d.seen, hash)
	}
}

func (d *Diagnostics) observeLoop(key string, now time.Time) int {
	window := d.cfg.LoopWindow.Std()
	seen := append(pruneBefore(d.loops[key], now, window), now)
	d.loops[key] = seen

	// Keep the key set bounded by sweeping stale keys once it outgrows the
	// history window.
	if limit := max(d.cfg.MaxHistory, 1); len(d.loops) > limit && window > 0 {
		for k, times := range d.loops {
			if kept := pruneBefore(times, now, window); len(kept) == 0 {
				delete(d.loops, k)
			} else {
				d.loops[k] = kept
			}
		}
	}

	return len(seen)
}

func pruneBefore(times []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return times
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

func (d *Diagnostics) fields(m Message) map[string]any {
	fields := make(map[string]any, 4)
	if d.cfg.Tracks(config.FieldName) {
		fields[config.FieldName] = m.Name()
	}
	if d.cfg.Tracks(config.FieldFrom) {
		fields[config.FieldFrom] = m.From()
	}
	if d.cfg.Tracks(config.FieldClientID) && m.ClientID() != "" {
		fields[config.FieldClientID] = m.ClientID()
	}
	if d.cfg.Tracks(config.FieldAttributes) {
		fields[config.FieldAttributes] = m.Attributes()
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// History returns tracked entries from oldest to newest.
func (d *Diagnostics) History() []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.historyLocked()
}

func (d *Diagnostics) historyLocked() []HistoryEntry {
	if !d.full {
		return slices.Clone(d.history[:d.next])
	}
	out := make([]HistoryEntry, 0, len(d.history))
	out = append(out, d.history[d.next:]...)
	out = append(out, d.history[:d.next]...)
	return out
}

// Collisions returns a copy of hash -> serialized attribute variants.
func (d *Diagnostics) Collisions() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]string, len(d.collisions))
	for k, v := range d.collisions {
		out[k] = slices.Clone(v)
	}
	return out
}

// LoopCount returns how many times the loop key of m has been seen within
// the loop window.
func (d *Diagnostics) LoopCount(m Message) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := m.Hash()
	if d.cfg.LoopKey != config.LoopKeyHash {
		key = ContentKey(m)
	}
	return len(pruneBefore(d.loops[key], d.now(), d.cfg.LoopWindow.Std()))
}

func (d *Diagnostics) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	loops := make(map[string]int, len(d.loops))
	for k, times := range d.loops {
		if n := len(pruneBefore(times, now, d.cfg.LoopWindow.Std())); n > 0 {
			loops[k] = n
		}
	}

	collisions := make(map[string][]string, len(d.collisions))
	maps.Copy(collisions, d.collisions)

	return Snapshot{
		History:    d.historyLocked(),
		Collisions: collisions,
		Loops:      loops,
	}
}

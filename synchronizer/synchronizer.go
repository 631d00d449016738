// Package synchronizer matches the entries of several timelines on a common
// timestamp, the way a render loop pairs a video frame with the tracker
// transforms captured at the same instant.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alesr/tidslinje"
)

var (
	ErrDuplicateSource = errors.New("source already registered")
	ErrUnknownSource   = errors.New("unknown source")
	ErrNegativeDelay   = errors.New("delay must not be negative")
	// ErrNothingToSync is returned when no registered source holds an entry.
	ErrNothingToSync = errors.New("nothing to synchronize")
	// ErrAlreadySynced is returned when the synchronization timestamp has
	// not moved since the previous call.
	ErrAlreadySynced = errors.New("already synchronized at this timestamp")
)

// Source is a timeline the synchronizer reads from. Every tidslinje timeline
// satisfies it.
type Source interface {
	ID() ulid.ULID
	NewestTimestamp() (float64, bool)
	ReadClosest(ts float64, dir tidslinje.Direction, fn func(*tidslinje.Object) error) error
}

// Match is the entry copied out of one source.
type Match struct {
	Source    string
	Timestamp float64 // entry timestamp
	Delta     float64 // entry timestamp minus the delayed sync timestamp, ms
	Payload   []byte  // marshalled payload, safe to keep
}

// Result is one synchronization.
type Result struct {
	Timestamp float64
	Matched   []Match
	Unmatched []string // sources with no entry close enough
}

// Stats reports synchronizer counters.
type Stats struct {
	Synced    uint64
	Skipped   uint64
	Published uint64
	Dropped   uint64 // results lost to a full output channel
	Last      float64
}

type source struct {
	name  string
	src   Source
	delay float64 // ms
}

// Synchronizer pairs entries across sources within a tolerance.
type Synchronizer struct {
	logger    *slog.Logger
	tolerance float64 // ms

	mu      sync.Mutex
	sources []*source
	last    float64

	synced    atomic.Uint64
	skipped   atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the synchronizer logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a synchronizer. Entries further than tolerance from the sync
// timestamp are reported unmatched.
func New(tolerance time.Duration, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		logger:    slog.Default(),
		tolerance: float64(tolerance) / float64(time.Millisecond),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tolerance returns the matching tolerance.
func (s *Synchronizer) Tolerance() time.Duration {
	return time.Duration(s.tolerance * float64(time.Millisecond))
}

// Add registers src under name.
func (s *Synchronizer) Add(name string, src Source) error {
	if src == nil {
		return fmt.Errorf("add %q: nil source", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(name) >= 0 {
		return fmt.Errorf("add %q: %w", name, ErrDuplicateSource)
	}
	s.sources = append(s.sources, &source{name: name, src: src})
	return nil
}

// Remove unregisters a source.
func (s *Synchronizer) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(name)
	if i < 0 {
		return fmt.Errorf("remove %q: %w", name, ErrUnknownSource)
	}
	s.sources = slices.Delete(s.sources, i, i+1)
	return nil
}

// SetDelay shifts the lookup in a source back by d, for sources whose
// timestamps lag the others.
func (s *Synchronizer) SetDelay(name string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("set delay %q: %w: %s", name, ErrNegativeDelay, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(name)
	if i < 0 {
		return fmt.Errorf("set delay %q: %w", name, ErrUnknownSource)
	}
	s.sources[i].delay = float64(d) / float64(time.Millisecond)
	return nil
}

// Sources returns the registered names in registration order.
func (s *Synchronizer) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.name
	}
	return names
}

// Reset forgets the last synchronization timestamp.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.last = 0
	s.mu.Unlock()
}

// Synchronize computes the synchronization timestamp and copies the closest
// entry of every participating source.
//
// The reference is the newest timestamp over all sources. Sources whose
// newest entry is within tolerance of it participate, and the sync timestamp
// is the oldest of their newest timestamps, so every participant can serve
// it. Sources outside the window, or whose closest entry is further than
// tolerance from the sync timestamp, are unmatched.
func (s *Synchronizer) Synchronize() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make([]float64, len(s.sources))
	reference := math.Inf(-1)
	for i, src := range s.sources {
		ts, ok := src.src.NewestTimestamp()
		if !ok {
			newest[i] = math.NaN()
			continue
		}
		newest[i] = ts
		reference = max(reference, ts)
	}
	if math.IsInf(reference, -1) {
		s.skipped.Add(1)
		return Result{}, ErrNothingToSync
	}

	syncTs := reference
	for _, ts := range newest {
		if s.participates(ts, reference) {
			syncTs = min(syncTs, ts)
		}
	}

	if syncTs == s.last {
		s.skipped.Add(1)
		return Result{}, fmt.Errorf("synchronize at %v: %w", syncTs, ErrAlreadySynced)
	}
	s.last = syncTs

	res := Result{Timestamp: syncTs}
	for i, src := range s.sources {
		if !s.participates(newest[i], reference) {
			res.Unmatched = append(res.Unmatched, src.name)
			continue
		}

		m, err := s.copyClosest(src, syncTs)
		if err != nil {
			if !errors.Is(err, tidslinje.ErrNotFound) {
				s.logger.Warn("synchronizer: failed to copy entry", "source", src.name, "error", err)
			}
			res.Unmatched = append(res.Unmatched, src.name)
			continue
		}
		res.Matched = append(res.Matched, m)
	}

	s.synced.Add(1)
	return res, nil
}

func (s *Synchronizer) participates(newest, reference float64) bool {
	return !math.IsNaN(newest) && reference-newest <= s.tolerance
}

func (s *Synchronizer) copyClosest(src *source, syncTs float64) (Match, error) {
	target := syncTs - src.delay
	m := Match{Source: src.name}

	err := src.src.ReadClosest(target, tidslinje.Both, func(obj *tidslinje.Object) error {
		m.Timestamp = obj.Timestamp()
		m.Delta = m.Timestamp - target
		if math.Abs(m.Delta) > s.tolerance {
			return fmt.Errorf("closest entry %v is %vms away: %w", m.Timestamp, m.Delta, tidslinje.ErrNotFound)
		}

		data, err := obj.Payload().MarshalBinary()
		if err != nil {
			return err
		}
		m.Payload = data
		return nil
	})
	return m, err
}

// Stats returns the synchronizer counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	return Stats{
		Synced:    s.synced.Load(),
		Skipped:   s.skipped.Load(),
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Last:      last,
	}
}

// Run synchronizes on every Pushed event from a registered source and resets
// on Cleared, publishing results on out. A full out drops the result. Run
// returns when ctx is done or events is closed.
func (s *Synchronizer) Run(ctx context.Context, events <-chan tidslinje.Event, out chan<- Result) error {
	s.logger.Info("synchronizer: running", "sources", s.Sources(), "tolerance", s.Tolerance())
	defer s.logger.Info("synchronizer: stopped", "synced", s.synced.Load(), "skipped", s.skipped.Load())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ev, out)
		}
	}
}

func (s *Synchronizer) handle(ev tidslinje.Event, out chan<- Result) {
	if !s.registered(ev.Source) {
		return
	}

	switch ev.Kind {
	case tidslinje.Cleared:
		s.Reset()
	case tidslinje.Pushed:
		res, err := s.Synchronize()
		if err != nil {
			s.logger.Debug("synchronizer: skipped", "timestamp", ev.Timestamp, "reason", err)
			return
		}
		select {
		case out <- res:
			s.published.Add(1)
		default:
			s.dropped.Add(1)
			s.logger.Debug("synchronizer: result dropped", "timestamp", res.Timestamp)
		}
	}
}

func (s *Synchronizer) registered(id ulid.ULID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.ContainsFunc(s.sources, func(src *source) bool {
		return src.src.ID() == id
	})
}

// find returns the index of name, or -1. The caller holds s.mu.
func (s *Synchronizer) find(name string) int {
	return slices.IndexFunc(s.sources, func(src *source) bool {
		return src.name == name
	})
}

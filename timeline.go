// Package tidslinje provides timestamp-indexed timelines backed by a
// fixed-capacity pool of reusable objects, for real-time producers such as
// frame grabbers and tracking listeners feeding render-rate consumers.
//
// A producer stages an object with CreateObject, fills its payload and
// publishes it with PushObject. Consumers look entries up with GetObject or
// GetClosestObject. Pushes, pops and clears are announced to a Notifier once
// the timeline lock has been released.
package tidslinje

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Direction constrains a closest-match lookup.
type Direction int

const (
	// Both returns the nearest entry on either side; ties go to the past entry.
	Both Direction = iota
	// Past returns the latest entry at or before the timestamp.
	Past
	// Future returns the earliest entry at or after the timestamp.
	Future
)

func (d Direction) String() string {
	switch d {
	case Both:
		return "both"
	case Past:
		return "past"
	case Future:
		return "future"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ExhaustionPolicy decides what CreateObject does when no slot is free.
type ExhaustionPolicy int

const (
	// DropNewest fails the create request with ErrPoolExhausted.
	DropNewest ExhaustionPolicy = iota
	// EvictOldest releases the oldest live entry and reuses its slot.
	EvictOldest
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case EvictOldest:
		return "evict-oldest"
	default:
		return fmt.Sprintf("ExhaustionPolicy(%d)", int(p))
	}
}

// Validator checks an object's payload shape before it enters a timeline.
type Validator func(*Object) error

// Metrics contains counters and occupancy for a Timeline.
type Metrics struct {
	Pushed      uint64        // successful pushes
	Popped      uint64        // successful pops
	Replaced    uint64        // pushes that overwrote a live entry
	Evicted     uint64        // live entries released by EvictOldest
	Dropped     uint64        // create requests refused on exhaustion
	Clears      uint64        // Clear calls
	Live        int           // entries visible to readers
	Staged      int           // objects created but not pushed
	Capacity    int           // pool size
	Utilization float64       // (live + staged) / capacity
	Uptime      time.Duration // since construction
	LastPush    time.Time     // wall time of the last push
}

// Timeline maps timestamps to live objects drawn from a fixed pool.
// All methods are safe for concurrent use.
type Timeline struct {
	id       ulid.ULID
	factory  PayloadFactory
	validate Validator
	policy   ExhaustionPolicy
	notifier Notifier
	logger   *slog.Logger
	capacity int

	mu    sync.RWMutex
	pool  *bufferPool
	index []*Object // live objects, ascending timestamps

	// metrics
	pushed       atomic.Uint64
	popped       atomic.Uint64
	replaced     atomic.Uint64
	evicted      atomic.Uint64
	dropped      atomic.Uint64
	clears       atomic.Uint64
	lastPush     atomic.Int64 // unix nanoseconds
	creationTime time.Time
}

// New creates a Timeline. Unless WithCapacity is given, InitPoolSize must be
// called before the first CreateObject.
func New(opts ...Option) *Timeline {
	tl := &Timeline{
		id:           ulid.Make(),
		notifier:     nopNotifier{},
		logger:       slog.Default(),
		creationTime: time.Now(),
	}
	for _, opt := range opts {
		opt(tl)
	}

	if tl.capacity > 0 {
		// capacity is positive, so this cannot fail
		_ = tl.InitPoolSize(tl.capacity)
	}
	return tl
}

// ID returns the timeline identifier carried by its events.
func (tl *Timeline) ID() ulid.ULID { return tl.id }

// InitPoolSize allocates capacity objects and discards any previous pool.
// Objects obtained before the call become foreign to the timeline.
func (tl *Timeline) InitPoolSize(capacity int) error {
	pool, err := newBufferPool(capacity, tl.factory)
	if err != nil {
		return err
	}

	tl.mu.Lock()
	hadEntries := len(tl.index) > 0
	reinit := tl.pool != nil
	tl.pool = pool
	tl.index = make([]*Object, 0, capacity)
	tl.capacity = capacity
	tl.mu.Unlock()

	if reinit {
		tl.logger.Debug("timeline: pool re-initialized",
			"timeline", tl.id.String(), "capacity", capacity)
	}
	if hadEntries {
		tl.notifier.Notify(Event{Kind: Cleared, Source: tl.id})
	}
	return nil
}

// CreateObject stages a pool object stamped with ts. The object is not
// visible to readers until PushObject or SetObject.
func (tl *Timeline) CreateObject(ts float64) (*Object, error) {
	if !validTimestamp(ts) {
		return nil, fmt.Errorf("create object at %v: %w", ts, ErrInvalidTimestamp)
	}

	var evicted bool
	var evictedTs float64
	tl.mu.Lock()
	if tl.pool == nil {
		tl.mu.Unlock()
		return nil, ErrPoolNotInitialized
	}

	obj, err := tl.pool.acquire()
	if err != nil && tl.policy == EvictOldest && len(tl.index) > 0 {
		oldest := tl.index[0]
		tl.index = slices.Delete(tl.index, 0, 1)
		// the released slot is the next one acquired, read its timestamp first
		evicted, evictedTs = true, oldest.Timestamp()
		tl.pool.release(oldest)
		tl.evicted.Add(1)
		obj, err = tl.pool.acquire()
	}
	if err != nil {
		tl.mu.Unlock()
		tl.dropped.Add(1)
		return nil, fmt.Errorf("create object at %v: %w", ts, err)
	}
	if tl.validate != nil {
		if verr := tl.validate(obj); verr != nil {
			tl.pool.release(obj)
			tl.mu.Unlock()
			return nil, fmt.Errorf("create object at %v: %w", ts, verr)
		}
	}
	obj.setTimestamp(ts)
	tl.mu.Unlock()

	if evicted {
		tl.logger.Debug("timeline: oldest entry evicted",
			"timeline", tl.id.String(), "timestamp", evictedTs)
		tl.notifier.Notify(Event{Kind: Removed, Timestamp: evictedTs, Source: tl.id})
	}
	return obj, nil
}

// PushObject publishes a staged object under its timestamp. A live entry at
// the same timestamp is replaced and its slot released: the latest write wins.
func (tl *Timeline) PushObject(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("push object: %w", ErrForeignObject)
	}
	ts := obj.Timestamp()

	tl.mu.Lock()
	if err := tl.checkStaged(obj); err != nil {
		tl.mu.Unlock()
		return fmt.Errorf("push object at %v: %w", ts, err)
	}
	tl.insert(obj)
	tl.mu.Unlock()

	tl.pushed.Add(1)
	tl.lastPush.Store(time.Now().UnixNano())
	tl.notifier.Notify(Event{Kind: Pushed, Timestamp: ts, Source: tl.id})
	return nil
}

// PopObject removes the entry at ts and releases its slot. The returned
// object may be handed out again by the next CreateObject.
func (tl *Timeline) PopObject(ts float64) (*Object, error) {
	tl.mu.Lock()
	i, found := tl.search(ts)
	if !found {
		tl.mu.Unlock()
		return nil, fmt.Errorf("pop object at %v: %w", ts, ErrNotFound)
	}
	obj := tl.index[i]
	tl.index = slices.Delete(tl.index, i, i+1)
	tl.pool.release(obj)
	tl.mu.Unlock()

	tl.popped.Add(1)
	tl.notifier.Notify(Event{Kind: Removed, Timestamp: ts, Source: tl.id})
	return obj, nil
}

// SetObject stamps the staged obj with ts and makes it the live entry at ts,
// releasing whatever was there. No event is emitted.
func (tl *Timeline) SetObject(ts float64, obj *Object) error {
	if !validTimestamp(ts) {
		return fmt.Errorf("set object at %v: %w", ts, ErrInvalidTimestamp)
	}
	if obj == nil {
		return fmt.Errorf("set object at %v: %w", ts, ErrForeignObject)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if err := tl.checkStaged(obj); err != nil {
		return fmt.Errorf("set object at %v: %w", ts, err)
	}
	obj.setTimestamp(ts)
	tl.insert(obj)
	return nil
}

// ModifyTime moves the live entry at oldTs to newTs. It fails with
// ErrTimestampExists when newTs is already occupied.
func (tl *Timeline) ModifyTime(oldTs, newTs float64) error {
	if !validTimestamp(newTs) {
		return fmt.Errorf("modify time %v -> %v: %w", oldTs, newTs, ErrInvalidTimestamp)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	i, found := tl.search(oldTs)
	if !found {
		return fmt.Errorf("modify time %v -> %v: %w", oldTs, newTs, ErrNotFound)
	}
	if oldTs == newTs {
		return nil
	}
	if _, taken := tl.search(newTs); taken {
		return fmt.Errorf("modify time %v -> %v: %w", oldTs, newTs, ErrTimestampExists)
	}

	obj := tl.index[i]
	tl.index = slices.Delete(tl.index, i, i+1)
	obj.setTimestamp(newTs)
	j, _ := tl.search(newTs)
	tl.index = slices.Insert(tl.index, j, obj)
	return nil
}

// Discard returns a staged object to the pool without publishing it.
func (tl *Timeline) Discard(obj *Object) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.pool == nil || !tl.pool.owns(obj) {
		return fmt.Errorf("discard object: %w", ErrForeignObject)
	}
	if obj.state != stateStaged {
		return fmt.Errorf("discard %s object: %w", obj.state, ErrInvalidTransition)
	}
	tl.pool.release(obj)
	return nil
}

// GetObject returns the live entry at exactly ts, or nil.
func (tl *Timeline) GetObject(ts float64) *Object {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if i, found := tl.search(ts); found {
		return tl.index[i]
	}
	return nil
}

// GetClosestObject returns the live entry nearest ts in the given direction,
// or nil when no entry qualifies. Equidistant past and future entries
// resolve to the past one.
func (tl *Timeline) GetClosestObject(ts float64, dir Direction) *Object {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	return tl.closest(ts, dir)
}

// closest implements GetClosestObject. Caller holds the lock.
func (tl *Timeline) closest(ts float64, dir Direction) *Object {
	if math.IsNaN(ts) {
		return nil
	}

	n := len(tl.index)
	if n == 0 {
		return nil
	}

	i, found := tl.search(ts)
	if found {
		return tl.index[i]
	}

	// tl.index[i] is the first entry after ts, tl.index[i-1] the last before it
	var past, future *Object
	if i > 0 {
		past = tl.index[i-1]
	}
	if i < n {
		future = tl.index[i]
	}

	switch dir {
	case Past:
		return past
	case Future:
		return future
	default:
		if past == nil {
			return future
		}
		if future == nil {
			return past
		}
		if future.Timestamp()-ts < ts-past.Timestamp() {
			return future
		}
		return past
	}
}

// ReadClosest calls fn with the entry GetClosestObject would return, while
// holding the read lock, so the payload cannot be recycled during the call.
// fn must not call mutating timeline methods. It returns ErrNotFound when no
// entry qualifies.
func (tl *Timeline) ReadClosest(ts float64, dir Direction, fn func(*Object) error) error {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	obj := tl.closest(ts, dir)
	if obj == nil {
		return fmt.Errorf("read closest to %v: %w", ts, ErrNotFound)
	}
	return fn(obj)
}

// Newest returns the live entry with the greatest timestamp, or nil.
func (tl *Timeline) Newest() *Object {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if len(tl.index) == 0 {
		return nil
	}
	return tl.index[len(tl.index)-1]
}

// NewestTimestamp returns the greatest live timestamp.
func (tl *Timeline) NewestTimestamp() (float64, bool) {
	if obj := tl.Newest(); obj != nil {
		return obj.Timestamp(), true
	}
	return 0, false
}

// Oldest returns the live entry with the smallest timestamp, or nil.
func (tl *Timeline) Oldest() *Object {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if len(tl.index) == 0 {
		return nil
	}
	return tl.index[0]
}

// Len returns the number of live entries.
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.index)
}

// Capacity returns the pool size, zero before InitPoolSize.
func (tl *Timeline) Capacity() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if tl.pool == nil {
		return 0
	}
	return tl.pool.capacity()
}

// Available returns the number of free pool slots.
func (tl *Timeline) Available() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if tl.pool == nil {
		return 0
	}
	return tl.pool.available()
}

// Timestamps returns the live timestamps in ascending order.
func (tl *Timeline) Timestamps() []float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	out := make([]float64, len(tl.index))
	for i, obj := range tl.index {
		out[i] = obj.Timestamp()
	}
	return out
}

// Visit calls fn for every live entry in timestamp order while holding the
// read lock. fn must not call mutating timeline methods. Iteration stops at
// the first error, which is returned.
func (tl *Timeline) Visit(fn func(*Object) error) error {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	for _, obj := range tl.index {
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases every live entry. Staged objects are left untouched.
func (tl *Timeline) Clear() {
	tl.mu.Lock()
	for _, obj := range tl.index {
		tl.pool.release(obj)
	}
	clear(tl.index)
	tl.index = tl.index[:0]
	tl.mu.Unlock()

	tl.clears.Add(1)
	tl.notifier.Notify(Event{Kind: Cleared, Source: tl.id})
}

// DeepCopy replaces the contents of tl with copies of src's live entries,
// re-initializing the pool with src's capacity. No events are emitted.
func (tl *Timeline) DeepCopy(src *Timeline) error {
	if src == nil || src == tl {
		return nil
	}

	capacity := src.Capacity()
	if capacity == 0 {
		return fmt.Errorf("deep copy: %w", ErrPoolNotInitialized)
	}
	pool, err := newBufferPool(capacity, tl.factory)
	if err != nil {
		return fmt.Errorf("deep copy: %w", err)
	}
	index := make([]*Object, 0, capacity)

	err = src.Visit(func(s *Object) error {
		obj, err := pool.acquire()
		if err != nil {
			return err
		}
		if tl.validate != nil {
			if err := tl.validate(obj); err != nil {
				return err
			}
		}
		if err := obj.payload.CopyFrom(s.payload); err != nil {
			return err
		}
		obj.setTimestamp(s.Timestamp())
		obj.state = stateLive
		index = append(index, obj)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deep copy: %w", err)
	}

	tl.mu.Lock()
	tl.pool = pool
	tl.index = index
	tl.capacity = capacity
	tl.mu.Unlock()
	return nil
}

// Metrics returns a snapshot of the timeline counters.
func (tl *Timeline) Metrics() Metrics {
	tl.mu.RLock()
	live := len(tl.index)
	var inUse, capacity int
	if tl.pool != nil {
		inUse = tl.pool.inUse()
		capacity = tl.pool.capacity()
	}
	tl.mu.RUnlock()

	var utilization float64
	if capacity > 0 {
		utilization = float64(inUse) / float64(capacity)
	}
	var lastPush time.Time
	if ns := tl.lastPush.Load(); ns != 0 {
		lastPush = time.Unix(0, ns)
	}

	return Metrics{
		Pushed:      tl.pushed.Load(),
		Popped:      tl.popped.Load(),
		Replaced:    tl.replaced.Load(),
		Evicted:     tl.evicted.Load(),
		Dropped:     tl.dropped.Load(),
		Clears:      tl.clears.Load(),
		Live:        live,
		Staged:      inUse - live,
		Capacity:    capacity,
		Utilization: utilization,
		Uptime:      time.Since(tl.creationTime),
		LastPush:    lastPush,
	}
}

// checkStaged verifies obj may enter the index. Caller holds the write lock.
func (tl *Timeline) checkStaged(obj *Object) error {
	if tl.validate != nil {
		if err := tl.validate(obj); err != nil {
			return err
		}
	}
	if tl.pool == nil || !tl.pool.owns(obj) {
		return ErrForeignObject
	}
	if obj.state != stateStaged {
		return fmt.Errorf("%w: object is %s", ErrInvalidTransition, obj.state)
	}
	return nil
}

// insert places a staged obj in the index, replacing an entry with the same
// timestamp. Caller holds the write lock.
func (tl *Timeline) insert(obj *Object) {
	i, found := tl.search(obj.Timestamp())
	if found {
		tl.pool.release(tl.index[i])
		tl.index[i] = obj
		tl.replaced.Add(1)
	} else {
		tl.index = slices.Insert(tl.index, i, obj)
	}
	obj.state = stateLive
}

// search returns the position of ts in the index and whether it is present.
// Caller holds the lock.
func (tl *Timeline) search(ts float64) (int, bool) {
	return slices.BinarySearchFunc(tl.index, ts, func(o *Object, t float64) int {
		return cmp.Compare(o.Timestamp(), t)
	})
}

func validTimestamp(ts float64) bool {
	return !math.IsNaN(ts) && !math.IsInf(ts, 0)
}

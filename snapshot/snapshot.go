// Package snapshot captures the live entries of a timeline into a portable,
// checksummed binary blob and restores them into another timeline.
//
// Blob layout, little-endian:
//
//	magic "TLSN" | version u8 | compression u8 | reserved u16 | entries u32 |
//	id [16] | source [16] | created unix-nano i64 | body length u32 |
//	compressed body | xxhash64(body) u64
//
// The body is, per entry, the timestamp as float64 bits, the payload length
// as u32 and the payload bytes.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alesr/tidslinje"
)

var (
	// ErrInvalidMagic is returned when a blob does not start with the snapshot magic.
	ErrInvalidMagic = errors.New("invalid snapshot magic")

	// ErrUnsupportedVersion is returned for a blob written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrChecksumMismatch is returned when the decoded body does not match its checksum.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrCorrupt is returned for truncated or inconsistent blobs.
	ErrCorrupt = errors.New("corrupt snapshot")
)

// Entry is one captured timeline entry.
type Entry struct {
	Timestamp float64
	Payload   []byte
}

// Snapshot is a point-in-time copy of a timeline's live entries, in
// ascending timestamp order.
type Snapshot struct {
	ID      ulid.ULID
	Source  ulid.ULID
	Created time.Time
	Entries []Entry
}

// Source is a timeline that can be captured.
type Source interface {
	ID() ulid.ULID
	Visit(fn func(*tidslinje.Object) error) error
}

// Target is a timeline a snapshot can be restored into.
type Target interface {
	CreateObject(ts float64) (*tidslinje.Object, error)
	PushObject(obj *tidslinje.Object) error
	Discard(obj *tidslinje.Object) error
}

// Capture copies every live entry of src. Payloads are marshalled while the
// timeline read lock is held, so the copy is consistent.
func Capture(src Source) (*Snapshot, error) {
	s := &Snapshot{
		ID:      ulid.Make(),
		Source:  src.ID(),
		Created: time.Now(),
	}

	err := src.Visit(func(obj *tidslinje.Object) error {
		payload, err := obj.Payload().MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal entry at %v: %w", obj.Timestamp(), err)
		}
		s.Entries = append(s.Entries, Entry{Timestamp: obj.Timestamp(), Payload: payload})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	return s, nil
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.Entries) }

// Span returns the first and last captured timestamps.
func (s *Snapshot) Span() (first, last float64, ok bool) {
	if len(s.Entries) == 0 {
		return 0, 0, false
	}
	return s.Entries[0].Timestamp, s.Entries[len(s.Entries)-1].Timestamp, true
}

// Restore pushes every entry of s into dst, oldest first. It stops at the
// first error and returns how many entries were restored.
func Restore(dst Target, s *Snapshot) (int, error) {
	for i, e := range s.Entries {
		obj, err := dst.CreateObject(e.Timestamp)
		if err != nil {
			return i, fmt.Errorf("restore entry %d: %w", i, err)
		}
		if err := obj.Payload().UnmarshalBinary(e.Payload); err != nil {
			_ = dst.Discard(obj)
			return i, fmt.Errorf("restore entry %d: %w", i, err)
		}
		if err := dst.PushObject(obj); err != nil {
			_ = dst.Discard(obj)
			return i, fmt.Errorf("restore entry %d: %w", i, err)
		}
	}
	return len(s.Entries), nil
}

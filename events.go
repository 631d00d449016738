package tidslinje

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// EventKind identifies a timeline notification.
type EventKind uint8

const (
	// Pushed is emitted after an object becomes visible at a timestamp.
	Pushed EventKind = iota + 1
	// Removed is emitted after a live object is popped or evicted.
	Removed
	// Cleared is emitted after every live object has been released.
	Cleared
)

func (k EventKind) String() string {
	switch k {
	case Pushed:
		return "pushed"
	case Removed:
		return "removed"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event carries the timestamp of a change, never the payload.
type Event struct {
	Kind      EventKind
	Timestamp float64   // zero for Cleared
	Source    ulid.ULID // id of the emitting timeline
}

// Notifier receives timeline events. Timelines call Notify after releasing
// their lock, so implementations may call back into the timeline.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

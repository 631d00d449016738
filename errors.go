package tidslinje

import "errors"

var (
	// ErrPoolExhausted is returned when every pool slot is staged or live.
	ErrPoolExhausted = errors.New("timeline pool exhausted")

	// ErrNotFound is returned when no live entry exists at the requested timestamp.
	ErrNotFound = errors.New("no object at timestamp")

	// ErrTypeMismatch is returned when an object's payload does not have the shape a timeline expects.
	ErrTypeMismatch = errors.New("object payload type mismatch")

	// ErrInvalidTransition is returned when an object is used out of its
	// free -> staged -> live -> free order.
	ErrInvalidTransition = errors.New("invalid object state transition")

	// ErrPoolNotInitialized is returned when objects are requested before InitPoolSize.
	ErrPoolNotInitialized = errors.New("timeline pool not initialized")

	// ErrInvalidCapacity is returned for a non-positive pool capacity.
	ErrInvalidCapacity = errors.New("pool capacity must be positive")

	// ErrInvalidTimestamp is returned for NaN or infinite timestamps.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrTimestampExists is returned when ModifyTime targets an occupied timestamp.
	ErrTimestampExists = errors.New("timestamp already in use")

	// ErrForeignObject is returned for objects that do not belong to the timeline's current pool.
	ErrForeignObject = errors.New("object does not belong to this timeline")

	// ErrElementIndex is returned when an element index is outside [0, maxElementNum).
	ErrElementIndex = errors.New("element index out of range")

	// ErrInvalidElementNum is returned for a maxElementNum outside [1, MaxElementNum].
	ErrInvalidElementNum = errors.New("invalid element count")

	// ErrInvalidObjectSize is returned for a non-positive raw object size.
	ErrInvalidObjectSize = errors.New("object size must be positive")

	// ErrInvalidFrameFormat is returned for zero frame dimensions or an unknown pixel format.
	ErrInvalidFrameFormat = errors.New("invalid frame format")
)

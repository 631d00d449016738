package tidslinje

import "log/slog"

// Option configures a Timeline.
type Option func(*Timeline)

// WithCapacity initializes the pool with n objects at construction.
func WithCapacity(n int) Option {
	return func(tl *Timeline) {
		if n > 0 {
			tl.capacity = n
		}
	}
}

// WithExhaustionPolicy sets what CreateObject does on a full pool.
func WithExhaustionPolicy(p ExhaustionPolicy) Option {
	return func(tl *Timeline) {
		if p == DropNewest || p == EvictOldest {
			tl.policy = p
		}
	}
}

// WithNotifier sets the receiver of push, remove and clear events.
func WithNotifier(n Notifier) Option {
	return func(tl *Timeline) {
		if n != nil {
			tl.notifier = n
		}
	}
}

// WithLogger sets the timeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(tl *Timeline) {
		if l != nil {
			tl.logger = l
		}
	}
}

// WithPayloadFactory sets how each pool slot's payload is allocated.
func WithPayloadFactory(f PayloadFactory) Option {
	return func(tl *Timeline) {
		if f != nil {
			tl.factory = f
		}
	}
}

// WithValidator sets the payload check run before an object enters the timeline.
func WithValidator(v Validator) Option {
	return func(tl *Timeline) {
		if v != nil {
			tl.validate = v
		}
	}
}

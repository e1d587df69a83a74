package panel

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultToastDuration is how long a toast stays visible
const DefaultToastDuration = 3000 * time.Millisecond

// Severity classifies a toast
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Toast is a short-lived notification
type Toast struct {
	ID        uint64    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// Toasts holds the active notifications. Each toast expires on its own timer
// and is removed by ID, so expiries never interfere with each other.
type Toasts struct {
	mu       sync.Mutex
	logger   *slog.Logger
	duration time.Duration
	nextID   uint64
	active   []Toast
	timers   map[uint64]*time.Timer
	closed   bool
}

// NewToasts creates an empty queue. A non-positive duration means DefaultToastDuration.
func NewToasts(duration time.Duration, logger *slog.Logger) *Toasts {
	if duration <= 0 {
		duration = DefaultToastDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toasts{
		logger:   logger,
		duration: duration,
		timers:   make(map[uint64]*time.Timer),
	}
}

// Notify adds a toast with the default duration
func (t *Toasts) Notify(message string, severity Severity) Toast {
	return t.NotifyFor(message, severity, t.duration)
}

// NotifyFor adds a toast that removes itself after d
func (t *Toasts) NotifyFor(message string, severity Severity, d time.Duration) Toast {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	toast := Toast{
		ID:        t.nextID,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	if severity == SeverityError {
		t.logger.Warn("Toast", "id", toast.ID, "message", message)
	} else {
		t.logger.Info("Toast", "id", toast.ID, "message", message)
	}

	if t.closed {
		return toast
	}

	t.active = append(t.active, toast)
	id := toast.ID
	t.timers[id] = time.AfterFunc(d, func() {
		t.Dismiss(id)
	})
	return toast
}

// Dismiss removes a toast before it expires. It reports whether the toast was active.
func (t *Toasts) Dismiss(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}

	idx := slices.IndexFunc(t.active, func(toast Toast) bool { return toast.ID == id })
	if idx == -1 {
		return false
	}
	t.active = slices.Delete(t.active, idx, idx+1)
	return true
}

// Active returns a copy of the visible toasts, oldest first
func (t *Toasts) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.active)
}

// Close stops every pending timer and clears the queue
func (t *Toasts) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.active = nil
	t.closed = true
}

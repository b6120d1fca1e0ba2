package services

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

type watchKey struct {
	RoomID int64
	UserID int64
}

// Watchdog tracks one cancellable grace timer per (room, participant). A
// disconnected player gets armed; if they do not reconnect before the grace
// period elapses the expiry callback runs, otherwise Disarm wins and the
// callback never fires. Cancellation and expiry are mutually exclusive,
// arbitrated by the timer itself.
type Watchdog struct {
	clock  quartz.Clock
	grace  time.Duration
	logger *log.Logger

	mu     sync.Mutex
	timers map[watchKey]*quartz.Timer
}

func NewWatchdog(clock quartz.Clock, grace time.Duration, logger *log.Logger) *Watchdog {
	return &Watchdog{
		clock:  clock,
		grace:  grace,
		logger: logger.WithPrefix("watchdog"),
		timers: make(map[watchKey]*quartz.Timer),
	}
}

// Arm schedules expire to run after the grace period unless Disarm is
// called first. At most one timer is pending per (room, participant); a
// second Arm replaces the first.
func (w *Watchdog) Arm(roomID, userID int64, expire func()) {
	key := watchKey{RoomID: roomID, UserID: userID}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[key]; ok {
		timer.Stop()
		delete(w.timers, key)
	}

	w.logger.Info("grace timer armed", "room", roomID, "user", userID, "grace", w.grace)

	w.timers[key] = w.clock.AfterFunc(w.grace, func() {
		w.mu.Lock()
		delete(w.timers, key)
		w.mu.Unlock()

		w.logger.Info("grace timer expired", "room", roomID, "user", userID)
		expire()
	})
}

// Disarm cancels the pending timer for (room, participant), if any.
// Returns whether a timer was cancelled before firing.
func (w *Watchdog) Disarm(roomID, userID int64) bool {
	key := watchKey{RoomID: roomID, UserID: userID}

	w.mu.Lock()
	defer w.mu.Unlock()

	timer, ok := w.timers[key]
	if !ok {
		return false
	}
	delete(w.timers, key)

	if !timer.Stop() {
		// Expiry already fired or is in flight; nothing to cancel.
		return false
	}

	w.logger.Info("grace timer cancelled", "room", roomID, "user", userID)
	return true
}

// Pending reports whether a timer is armed for (room, participant).
func (w *Watchdog) Pending(roomID, userID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[watchKey{RoomID: roomID, UserID: userID}]
	return ok
}

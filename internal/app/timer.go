package app

import (
	"context"
	"log"
	"time"
)

// DefaultTimerInterval is the broadcast tick period.
const DefaultTimerInterval = time.Second

// TimerBroadcaster pushes countdown syncs to every session with an active
// question once per tick. It owns no per-session timers: remaining time is a
// pure function of the stored deadline and the session clock, so a single
// shared tick scales with the number of live sessions.
type TimerBroadcaster struct {
	sessions SessionStore
	interval time.Duration

	// autoLock, when enabled, issues a Lock through the state machine once
	// the countdown reaches zero. It is policy on top of the advisory timer,
	// never a side channel around the transition rules.
	autoLock bool
	lock     func(sessionID string) error
}

func NewTimerBroadcaster(sessions SessionStore, interval time.Duration, autoLock bool, lock func(sessionID string) error) *TimerBroadcaster {
	if interval <= 0 {
		interval = DefaultTimerInterval
	}
	return &TimerBroadcaster{
		sessions: sessions,
		interval: interval,
		autoLock: autoLock,
		lock:     lock,
	}
}

// Run ticks until the context is canceled.
func (t *TimerBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.TickOnce()
		}
	}
}

// TickOnce scans live sessions and broadcasts remaining time for each one in
// the question-active phase. Exported so tests can drive ticks without
// wall-clock sleeps.
func (t *TimerBroadcaster) TickOnce() {
	for _, session := range t.sessions.List() {
		if session.ConnectedCount() == 0 {
			continue
		}
		remaining, active := session.SyncTimer()
		if active && remaining == 0 && t.autoLock && t.lock != nil {
			if err := t.lock(session.ID()); err != nil {
				log.Printf("auto-lock session %s: %v", session.ID(), err)
			}
		}
	}
}

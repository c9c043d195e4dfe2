// Package typing derives start/stop typing notifications from local
// input activity. It is decoupled from any input widget: callers feed
// it the composed content on every change.
package typing

import (
	"sync"
	"time"
)

// DefaultIdle is the pause after which composing is considered stopped.
const DefaultIdle = 3 * time.Second

// Signal emits onStart while the user is composing and onStop once the
// input goes quiet or empty. Both callbacks are fire-and-forget
// notifications; no response is awaited.
type Signal struct {
	idle    time.Duration
	onStart func()
	onStop  func()

	mu        sync.Mutex
	timer     *time.Timer
	composing bool
}

// New builds a signal. idle <= 0 selects DefaultIdle.
func New(idle time.Duration, onStart, onStop func()) *Signal {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Signal{idle: idle, onStart: onStart, onStop: onStop}
}

// Update reports the current input content. Non-empty content emits
// onStart and (re)arms the inactivity timer; empty content emits onStop
// immediately and disarms it.
func (s *Signal) Update(content string) {
	s.mu.Lock()
	if content == "" {
		if !s.composing {
			s.mu.Unlock()
			return
		}
		s.composing = false
		s.disarm()
		s.mu.Unlock()
		s.onStop()
		return
	}

	s.composing = true
	s.disarm()
	s.timer = time.AfterFunc(s.idle, s.expire)
	s.mu.Unlock()
	s.onStart()
}

// Stop disarms the timer without emitting anything. Call on teardown.
func (s *Signal) Stop() {
	s.mu.Lock()
	s.composing = false
	s.disarm()
	s.mu.Unlock()
}

func (s *Signal) expire() {
	s.mu.Lock()
	if !s.composing {
		s.mu.Unlock()
		return
	}
	s.composing = false
	s.timer = nil
	s.mu.Unlock()
	s.onStop()
}

func (s *Signal) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

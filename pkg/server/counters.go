package server

import (
	"sync"
	"time"
)

// ClientCounter holds the number of connected clients and the time of the
// last client action under a single mutex, so the pair is always read and
// written together.
//
// The zero value is not usable; call NewClientCounter.
type ClientCounter struct {
	mu         sync.Mutex
	active     int
	lastAction time.Time
	now        func() time.Time
}

// NewClientCounter returns a counter with no clients whose last action is
// the current time. A nil clock uses time.Now.
func NewClientCounter(clock func() time.Time) *ClientCounter {
	if clock == nil {
		clock = time.Now
	}
	return &ClientCounter{lastAction: clock(), now: clock}
}

// Connect counts a new client and returns the new count.
func (c *ClientCounter) Connect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	c.lastAction = c.now()
	return c.active
}

// Disconnect uncounts a client and returns the new count. The count never
// goes below zero: an unmatched Disconnect returns ErrCounterUnderflow and
// only refreshes the timestamp.
func (c *ClientCounter) Disconnect() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAction = c.now()
	if c.active == 0 {
		return 0, ErrCounterUnderflow
	}
	c.active--
	return c.active, nil
}

// Touch records client activity without changing the count.
func (c *ClientCounter) Touch() {
	c.mu.Lock()
	c.lastAction = c.now()
	c.mu.Unlock()
}

func (c *ClientCounter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the count and last action time read together.
func (c *ClientCounter) Snapshot() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.lastAction
}

// IdleFor returns how long the server has had no clients as of now.
// ok is false while any client is connected, however old the last action.
func (c *ClientCounter) IdleFor(now time.Time) (idle time.Duration, ok bool) {
	active, last := c.Snapshot()
	if active != 0 {
		return 0, false
	}
	if idle = now.Sub(last); idle < 0 {
		idle = 0
	}
	return idle, true
}

package motion

import (
	"sync"
	"time"
)

// MockController is an in-memory Controller for tests and mock servers.
// Moves complete after MoveDelay, or instantly when it is zero.
type MockController struct {
	mu  sync.Mutex
	pos map[string]float64

	// MoveDelay is how long each move blocks before completing
	MoveDelay time.Duration

	moves   int
	stopped bool
}

// NewMockController returns a MockController with all axes at zero
func NewMockController() *MockController {
	return &MockController{pos: map[string]float64{}}
}

// GetPos gets the position of an axis
func (c *MockController) GetPos(axis string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos[axis], nil
}

// MoveAbs moves an axis to pos, blocking for MoveDelay
func (c *MockController) MoveAbs(axis string, pos float64) error {
	time.Sleep(c.MoveDelay)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.stopped = false
		return nil
	}
	c.pos[axis] = pos
	c.moves++
	return nil
}

// MoveRel moves an axis by dist, blocking for MoveDelay
func (c *MockController) MoveRel(axis string, dist float64) error {
	time.Sleep(c.MoveDelay)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.stopped = false
		return nil
	}
	c.pos[axis] += dist
	c.moves++
	return nil
}

// Stop marks the next move as aborted
func (c *MockController) Stop(axis string) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

// Moves returns the number of completed moves
func (c *MockController) Moves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moves
}

// Package laser enables and disables laser lines by name.
package laser

import (
	"fmt"
	"sync"

	"github.com/openlsm/lightctl/daq"
)

// Enabler switches laser enable lines.  At most one line is enabled at a
// time; enabling a line disables the rest.
type Enabler struct {
	mu     sync.Mutex
	lines  map[string]daq.Line
	active string
}

// NewEnabler returns an Enabler over a name -> line mapping
func NewEnabler(lines map[string]daq.Line) *Enabler {
	return &Enabler{lines: lines}
}

// Enable turns on the named laser line and turns off all others
func (e *Enabler) Enable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.lines[name]
	if !ok {
		return fmt.Errorf("laser %q not present in laser line configuration", name)
	}
	for other, l := range e.lines {
		if other == name {
			continue
		}
		if err := l.Set(false); err != nil {
			return err
		}
	}
	if err := line.Set(true); err != nil {
		return err
	}
	e.active = name
	return nil
}

// DisableAll turns off every laser line
func (e *Enabler) DisableAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.lines {
		if err := l.Set(false); err != nil {
			return err
		}
	}
	e.active = ""
	return nil
}

// Active returns the name of the currently enabled line, or ""
func (e *Enabler) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Package shutter toggles the left/right light-path shutters per a
// named configuration.
package shutter

import "github.com/openlsm/lightctl/daq"

// Config names a pattern of open shutters
type Config string

// the recognized shutter configurations; any other value opens both
const (
	Both  Config = "Both"
	Left  Config = "Left"
	Right Config = "Right"
)

// Shutter is a single light-path shutter over a digital line
type Shutter struct {
	line daq.Line
	open bool
}

// New returns a Shutter driving the given line.  The shutter is assumed
// closed; call Close to force the hardware to match.
func New(line daq.Line) *Shutter {
	return &Shutter{line: line}
}

// Open opens the shutter
func (s *Shutter) Open() error {
	err := s.line.Set(true)
	if err == nil {
		s.open = true
	}
	return err
}

// Close closes the shutter
func (s *Shutter) Close() error {
	err := s.line.Set(false)
	if err == nil {
		s.open = false
	}
	return err
}

// IsOpen reports the last commanded state
func (s *Shutter) IsOpen() bool {
	return s.open
}

// Pair is the left/right shutter pair of a dual-sided light sheet
type Pair struct {
	Left  *Shutter
	Right *Shutter
}

// NewPair returns a Pair over two digital lines
func NewPair(left, right daq.Line) *Pair {
	return &Pair{Left: New(left), Right: New(right)}
}

// Open opens the shutters matching cfg.  Unrecognized configurations
// degrade to opening both, never to an error.
func (p *Pair) Open(cfg Config) error {
	switch cfg {
	case Left:
		if err := p.Left.Open(); err != nil {
			return err
		}
		return p.Right.Close()
	case Right:
		if err := p.Right.Open(); err != nil {
			return err
		}
		return p.Left.Close()
	default: // Both, or anything unrecognized
		if err := p.Left.Open(); err != nil {
			return err
		}
		return p.Right.Open()
	}
}

// Close closes both shutters unconditionally, regardless of which
// pattern was last open.  It is safe to call repeatedly.
func (p *Pair) Close() error {
	err1 := p.Left.Close()
	err2 := p.Right.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

package filterwheel

import "fmt"

// Sim is a software filter wheel for running without hardware.  It validates
// names against the same maps a real Wheel would and remembers what was set.
type Sim struct {
	Filters map[string]byte
	Zooms   map[string]byte

	Filter    string
	Zoom      string
	Intensity float64
}

// NewSim returns a simulated wheel with the given position maps.
func NewSim(filters, zooms map[string]byte) *Sim {
	return &Sim{Filters: filters, Zooms: zooms}
}

func (s *Sim) SetFilter(name string) error {
	if _, ok := s.Filters[name]; !ok {
		return fmt.Errorf("filterwheel: filter %q not in wheel", name)
	}
	s.Filter = name
	return nil
}

func (s *Sim) SetZoom(name string) error {
	if _, ok := s.Zooms[name]; !ok {
		return fmt.Errorf("filterwheel: zoom %q not available", name)
	}
	s.Zoom = name
	return nil
}

func (s *Sim) SetIntensity(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("filterwheel: intensity %f out of range [0,100]", pct)
	}
	s.Intensity = pct
	return nil
}

// Package state holds the current instrument configuration shared by
// the acquisition engine and its collaborators.
package state

import (
	"sync"

	"github.com/openlsm/lightctl/acq"
)

// Kind enumerates the value types a parameter key may hold
type Kind int

// the kinds of values storable under a parameter key
const (
	String Kind = iota
	Float
	Int
	Bool
)

// schema is the closed set of recognized parameter keys.  Writes to keys
// outside this set are dropped, there is no fall-through dispatch.
var schema = map[string]Kind{
	"state":         String,
	"filter":        String,
	"zoom":          String,
	"laser":         String,
	"intensity":     Float,
	"shutterconfig": String,
	"shutterstate":  Bool,
	"pixelsize":     Float,

	"camera_exposure_time": Float,
	"camera_line_interval": Float,
	"camera_delay_%":       Float,
	"camera_pulse_%":       Float,

	"samplerate":   Int,
	"sweeptime":    Float,
	"ETL_cfg_file": String,

	"etl_l_delay_%":        Float,
	"etl_l_ramp_rising_%":  Float,
	"etl_l_ramp_falling_%": Float,
	"etl_l_amplitude":      Float,
	"etl_l_offset":         Float,
	"etl_r_delay_%":        Float,
	"etl_r_ramp_rising_%":  Float,
	"etl_r_ramp_falling_%": Float,
	"etl_r_amplitude":      Float,
	"etl_r_offset":         Float,

	"galvo_l_frequency":  Float,
	"galvo_l_amplitude":  Float,
	"galvo_l_offset":     Float,
	"galvo_l_duty_cycle": Float,
	"galvo_l_phase":      Float,
	"galvo_r_frequency":  Float,
	"galvo_r_amplitude":  Float,
	"galvo_r_offset":     Float,
	"galvo_r_duty_cycle": Float,
	"galvo_r_phase":      Float,

	"laser_l_delay_%":       Float,
	"laser_l_pulse_%":       Float,
	"laser_l_max_amplitude": Float,
	"laser_r_delay_%":       Float,
	"laser_r_pulse_%":       Float,
	"laser_r_max_amplitude": Float,
}

// Store is a concurrency-safe parameter store with a closed key set.
// The engine is the only writer of acquisition parameter keys; workers
// write position telemetry through SetPosition.  Stores must be created
// with New.
type Store struct {
	mu   sync.RWMutex
	vals map[string]interface{}
	pos  map[string]float64

	list        acq.List
	selectedRow int
}

// New returns a Store populated with startup defaults
func New() *Store {
	return &Store{
		vals: map[string]interface{}{
			"state":         "init",
			"filter":        "Empty-Alignment",
			"zoom":          "1x",
			"laser":         "488 nm",
			"intensity":     0.0,
			"shutterconfig": "Both",
			"shutterstate":  false,
			"pixelsize":     6.5,

			"camera_exposure_time": 0.02,
			"camera_line_interval": 75e-6,
			"camera_delay_%":       10.0,
			"camera_pulse_%":       1.0,

			"samplerate":   100000,
			"sweeptime":    0.2,
			"ETL_cfg_file": "",

			"etl_l_delay_%":        7.5,
			"etl_l_ramp_rising_%":  85.0,
			"etl_l_ramp_falling_%": 2.5,
			"etl_l_amplitude":      0.7,
			"etl_l_offset":         2.3,
			"etl_r_delay_%":        7.5,
			"etl_r_ramp_rising_%":  85.0,
			"etl_r_ramp_falling_%": 2.5,
			"etl_r_amplitude":      0.65,
			"etl_r_offset":         2.36,

			"galvo_l_frequency":  99.9,
			"galvo_l_amplitude":  6.0,
			"galvo_l_offset":     0.0,
			"galvo_l_duty_cycle": 50.0,
			"galvo_l_phase":      1.5707963267948966,
			"galvo_r_frequency":  99.9,
			"galvo_r_amplitude":  6.0,
			"galvo_r_offset":     0.0,
			"galvo_r_duty_cycle": 50.0,
			"galvo_r_phase":      1.5707963267948966,

			"laser_l_delay_%":       10.0,
			"laser_l_pulse_%":       87.0,
			"laser_l_max_amplitude": 5.0,
			"laser_r_delay_%":       10.0,
			"laser_r_pulse_%":       87.0,
			"laser_r_max_amplitude": 5.0,
		},
		pos: map[string]float64{},
	}
}

// Recognized returns true if key is in the parameter schema
func Recognized(key string) bool {
	_, ok := schema[key]
	return ok
}

// Set stores a value under key.  The write is dropped and false returned
// if the key is not recognized or the value does not match the key's
// kind.  Integer values are accepted for Float keys, and whole floats for
// Int keys.
func (s *Store) Set(key string, value interface{}) bool {
	kind, ok := schema[key]
	if !ok {
		return false
	}
	switch kind {
	case String:
		if _, ok := value.(string); !ok {
			return false
		}
	case Float:
		switch v := value.(type) {
		case float64:
		case int:
			value = float64(v)
		default:
			return false
		}
	case Int:
		switch v := value.(type) {
		case int:
		case float64:
			// JSON numbers arrive as float64
			if v != float64(int(v)) {
				return false
			}
			value = int(v)
		default:
			return false
		}
	case Bool:
		if _, ok := value.(bool); !ok {
			return false
		}
	}
	s.mu.Lock()
	s.vals[key] = value
	s.mu.Unlock()
	return true
}

// Get retrieves the raw value under key, with ok=false for unknown keys
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

// Float returns the float value under key, or zero if absent or mistyped
func (s *Store) Float(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, _ := s.vals[key].(float64)
	return f
}

// Str returns the string value under key, or "" if absent or mistyped
func (s *Store) Str(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	str, _ := s.vals[key].(string)
	return str
}

// Int returns the int value under key, or zero if absent or mistyped
func (s *Store) Int(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, _ := s.vals[key].(int)
	return i
}

// Bool returns the bool value under key, or false if absent or mistyped
func (s *Store) Bool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _ := s.vals[key].(bool)
	return b
}

// Snapshot returns a copy of all scalar parameters, for serialization
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}

// SetPosition records axis position telemetry from the motion worker
func (s *Store) SetPosition(axis string, pos float64) {
	s.mu.Lock()
	s.pos[axis] = pos
	s.mu.Unlock()
}

// Positions returns a copy of the last reported axis positions
func (s *Store) Positions() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.pos))
	for k, v := range s.pos {
		out[k] = v
	}
	return out
}

// SetList replaces the active acquisition list
func (s *Store) SetList(l acq.List) {
	s.mu.Lock()
	s.list = l
	s.mu.Unlock()
}

// List returns the active acquisition list
func (s *Store) List() acq.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

// SetSelectedRow records which list row a run_selected_acquisition targets
func (s *Store) SetSelectedRow(row int) {
	s.mu.Lock()
	s.selectedRow = row
	s.mu.Unlock()
}

// SelectedRow returns the selected acquisition list row
func (s *Store) SelectedRow() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedRow
}

// Package acq contains the data model for planned imaging stacks:
// single acquisitions and ordered lists of them.
package acq

import (
	"math"
	"path/filepath"
)

// axis names used in move targets
const (
	AxisX     = "x"
	AxisY     = "y"
	AxisZ     = "z"
	AxisTheta = "theta"
	AxisF     = "f"
)

// Acquisition is one planned imaging stack.  It is immutable once
// constructed; the engine only reads it during execution.
type Acquisition struct {
	// Folder is the destination directory for the stack and its sidecar
	Folder string `yaml:"Folder"`

	// Filename is the base name of the stack file within Folder
	Filename string `yaml:"Filename"`

	Filter    string  `yaml:"Filter"`
	Zoom      string  `yaml:"Zoom"`
	Laser     string  `yaml:"Laser"`
	Intensity float64 `yaml:"Intensity"`

	// Shutter is the named shutter configuration (Both/Left/Right)
	Shutter string `yaml:"Shutter"`

	XPos     float64 `yaml:"XPos"`
	YPos     float64 `yaml:"YPos"`
	ZStart   float64 `yaml:"ZStart"`
	ZEnd     float64 `yaml:"ZEnd"`
	ZStep    float64 `yaml:"ZStep"`
	ThetaPos float64 `yaml:"ThetaPos"`
	FStart   float64 `yaml:"FStart"`
	FEnd     float64 `yaml:"FEnd"`

	// Planes is the declared plane count, used when the z range is not set
	Planes int `yaml:"Planes"`

	ETLLOffset    float64 `yaml:"ETLLOffset"`
	ETLLAmplitude float64 `yaml:"ETLLAmplitude"`
	ETLROffset    float64 `yaml:"ETLROffset"`
	ETLRAmplitude float64 `yaml:"ETLRAmplitude"`
}

// Path returns the full destination path of the stack file
func (a Acquisition) Path() string {
	return filepath.Join(a.Folder, a.Filename)
}

// ImageCount returns the number of planes in the acquisition.  When a z
// range and step are configured it is derived from them, otherwise the
// declared plane count is used.
func (a Acquisition) ImageCount() int {
	if a.ZStep != 0 && a.ZEnd != a.ZStart {
		return int(math.Abs((a.ZEnd - a.ZStart) / a.ZStep))
	}
	return a.Planes
}

// Duration returns the time the acquisition will take in seconds, given
// the per-plane sweep time in seconds
func (a Acquisition) Duration(sweeptime float64) float64 {
	return sweeptime * float64(a.ImageCount())
}

// DeltaZ returns the relative move for one z step, signed toward ZEnd
func (a Acquisition) DeltaZ() map[string]float64 {
	step := math.Abs(a.ZStep)
	if a.ZEnd < a.ZStart {
		step = -step
	}
	return map[string]float64{AxisZ: step}
}

// Startpoint returns the absolute move target for the start of the stack
func (a Acquisition) Startpoint() map[string]float64 {
	return map[string]float64{
		AxisX:     a.XPos,
		AxisY:     a.YPos,
		AxisZ:     a.ZStart,
		AxisTheta: a.ThetaPos,
		AxisF:     a.FStart,
	}
}

// Endpoint returns the absolute move target for the end of the stack
func (a Acquisition) Endpoint() map[string]float64 {
	return map[string]float64{
		AxisX:     a.XPos,
		AxisY:     a.YPos,
		AxisZ:     a.ZEnd,
		AxisTheta: a.ThetaPos,
		AxisF:     a.FEnd,
	}
}

// FocusSteps returns the per-plane focus deltas for a focus-tracking
// stack.  The focus stage travels a fraction of a z step per plane and
// has a 0.1 micron minimum step, so rounding error would accumulate over
// thousands of planes; correcting steps are interspersed to keep the
// running error below one minimum step.
func (a Acquisition) FocusSteps() []float64 {
	steps := a.ImageCount()
	if steps == 0 {
		return nil
	}
	fStep := math.Abs(a.FEnd-a.FStart) / float64(steps)
	if a.FEnd < a.FStart {
		fStep = -fStep
	}

	standard := round1(fStep)
	var (
		out      = make([]float64, 0, steps)
		focus    float64
		expected float64
		errAcc   float64
	)
	for i := 0; i < steps; i++ {
		step := standard
		if math.Abs(errAcc) >= 0.1 {
			if errAcc < 0 {
				step = round1(standard - 0.1)
			} else {
				step = round1(standard + 0.1)
			}
		}
		out = append(out, step)
		focus = round5(focus + step)
		expected += fStep
		errAcc = round5(expected - focus)
	}
	return out
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func round5(f float64) float64 {
	return math.Round(f*1e5) / 1e5
}

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/state"
)

// MetadataPath returns the sidecar path for an acquisition,
// <folder>/<basename>_meta.txt.
func MetadataPath(a acq.Acquisition) string {
	base := strings.TrimSuffix(a.Filename, filepath.Ext(a.Filename))
	return filepath.Join(a.Folder, base+"_meta.txt")
}

// WriteMetadata serializes the resolved parameters of one acquisition to its
// sidecar record.  The format is consumed by downstream analysis tooling:
// [key] value lines grouped under section headers, one blank line between
// sections, floats always carrying a decimal point.
func WriteMetadata(s *state.Store, a acq.Acquisition) error {
	if err := os.MkdirAll(a.Folder, 0755); err != nil {
		return err
	}
	f, err := os.Create(MetadataPath(a))
	if err != nil {
		return err
	}
	defer f.Close()

	w := func(key string, value interface{}) {
		fmt.Fprintf(f, "[%s] %s\n", key, metaValue(value))
	}

	fmt.Fprintln(f, "[CFG]")
	w("Laser", a.Laser)
	w("Intensity (%)", a.Intensity)
	w("Zoom", a.Zoom)
	w("Pixelsize in um", s.Float("pixelsize"))
	w("Filter", a.Filter)
	w("Shutter", a.Shutter)

	fmt.Fprintln(f, "\n[POSITION]")
	w("x_pos", a.XPos)
	w("y_pos", a.YPos)
	w("f_start", a.FStart)
	w("f_end", a.FEnd)
	w("z_start", a.ZStart)
	w("z_end", a.ZEnd)
	w("z_stepsize", a.ZStep)
	w("z_planes", a.ImageCount())

	fmt.Fprintln(f, "\n[ETL PARAMETERS]")
	w("ETL CFG File", s.Str("ETL_cfg_file"))
	w("etl_l_offset", s.Float("etl_l_offset"))
	w("etl_l_amplitude", s.Float("etl_l_amplitude"))
	w("etl_r_offset", s.Float("etl_r_offset"))
	w("etl_r_amplitude", s.Float("etl_r_amplitude"))

	fmt.Fprintln(f, "\n[GALVO PARAMETERS]")
	w("galvo_l_frequency", s.Float("galvo_l_frequency"))
	w("galvo_l_amplitude", s.Float("galvo_l_amplitude"))
	w("galvo_r_amplitude", s.Float("galvo_r_amplitude"))

	fmt.Fprintln(f, "\n[CAMERA PARAMETERS]")
	w("camera_exposure", s.Float("camera_exposure_time"))
	w("camera_line_interval", s.Float("camera_line_interval"))

	return nil
}

// metaValue renders a value in the sidecar's text form.  Floats always get a
// decimal point so 2.0 round-trips as "2.0", which the downstream parsers
// expect.
func metaValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

package camera

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
)

// writeSeries dumps a completed series to a FITS cube next to the
// acquisition's configured destination, swapping the extension for .fits
func writeSeries(s *Series) error {
	p := s.Acq.Path()
	p = strings.TrimSuffix(p, filepath.Ext(p)) + ".fits"
	if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	first := s.Frames[0]
	cards := []fitsio.Card{
		{Name: "FILTER", Value: s.Acq.Filter, Comment: "filter designation"},
		{Name: "LASER", Value: s.Acq.Laser, Comment: "laser designation"},
		{Name: "ZOOM", Value: s.Acq.Zoom, Comment: "zoom designation"},
		{Name: "SHUTTER", Value: s.Acq.Shutter, Comment: "shutter configuration"},
		{Name: "ZSTEP", Value: s.Acq.ZStep, Comment: "z step size, microns"},
	}

	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	dims := []int{first.Width, first.Height}
	if len(s.Frames) > 1 {
		dims = append(dims, len(s.Frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	// FITS 16-bit images are signed; shift the unsigned data down
	buf := make([]int16, 0, first.Width*first.Height*len(s.Frames))
	for _, fr := range s.Frames {
		for _, px := range fr.Pix {
			buf = append(buf, int16(px-32768))
		}
	}
	if err := im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}

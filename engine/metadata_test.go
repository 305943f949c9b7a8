package engine_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/engine"
	"github.com/openlsm/lightctl/state"
)

func TestMetadataPathStripsExtension(t *testing.T) {
	a := acq.Acquisition{Folder: "/data/run1", Filename: "stack0.raw"}
	want := filepath.Join("/data/run1", "stack0_meta.txt")
	if got := engine.MetadataPath(a); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMetadataFloatsKeepDecimalPoint(t *testing.T) {
	dir := t.TempDir()
	a := acq.Acquisition{
		Folder:   dir,
		Filename: "stack0.raw",
		Laser:    "488 nm",
		ZStart:   0,
		ZEnd:     6,
		ZStep:    2.0,
	}
	s := state.New()
	if err := engine.WriteMetadata(s, a); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(engine.MetadataPath(a))
	if err != nil {
		t.Fatal(err)
	}
	txt := string(b)
	// whole-valued floats must not lose their decimal point
	for _, want := range []string{"[z_stepsize] 2.0", "[z_start] 0.0", "[z_end] 6.0", "[z_planes] 3"} {
		if !strings.Contains(txt, want) {
			t.Errorf("metadata missing %q", want)
		}
	}
	// sections separated by a blank line
	if !strings.Contains(txt, "\n\n[POSITION]") {
		t.Error("POSITION section not preceded by a blank line")
	}
}

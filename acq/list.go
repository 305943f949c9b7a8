package acq

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// List is an ordered batch of acquisitions executed as one run
type List []Acquisition

// ImageCount returns the total number of planes across the list
func (l List) ImageCount() int {
	count := 0
	for i := range l {
		count += l[i].ImageCount()
	}
	return count
}

// Duration returns the total run time in seconds for the per-plane
// sweep time in seconds
func (l List) Duration(sweeptime float64) float64 {
	t := 0.
	for i := range l {
		t += l[i].Duration(sweeptime)
	}
	return t
}

// Startpoint returns the position to return to after the list completes,
// which is the start point of the first member
func (l List) Startpoint() map[string]float64 {
	if len(l) == 0 {
		return map[string]float64{}
	}
	return l[0].Startpoint()
}

// HasRotation returns true if any two consecutive members start at
// different rotation angles
func (l List) HasRotation() bool {
	for i := 0; i < len(l)-1; i++ {
		if l[i+1].ThetaPos != l[i].ThetaPos {
			return true
		}
	}
	return false
}

// DuplicateFilenames returns the destination paths used by more than one
// member of the list
func (l List) DuplicateFilenames() []string {
	seen := map[string]int{}
	for i := range l {
		seen[l[i].Path()]++
	}
	var dupes []string
	for i := range l {
		p := l[i].Path()
		if seen[p] > 1 {
			dupes = append(dupes, p)
			seen[p] = 0 // report each duplicate once
		}
	}
	return dupes
}

// ExistingFilenames returns the destination paths that already exist on
// disk
func (l List) ExistingFilenames() []string {
	var existing []string
	for i := range l {
		p := l[i].Path()
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

// Validate returns an error describing duplicated or already-existing
// destination files, or nil if the list is safe to run
func (l List) Validate() error {
	if dupes := l.DuplicateFilenames(); len(dupes) > 0 {
		return fmt.Errorf("acquisition list has duplicated filenames: %v", dupes)
	}
	if existing := l.ExistingFilenames(); len(existing) > 0 {
		return fmt.Errorf("acquisition list would overwrite existing files: %v", existing)
	}
	return nil
}

// LoadYaml reads an acquisition list from a yaml file
func LoadYaml(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var l List
	err = yaml.NewDecoder(f).Decode(&l)
	return l, err
}

// SaveYaml writes an acquisition list to a yaml file
func (l List) SaveYaml(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewEncoder(f).Encode(l)
}

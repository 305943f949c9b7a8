package acq

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NextFilename scans folder for files named prefix_NNNNNN.suffix and
// returns the name with the next free counter value.  If the folder does
// not exist or holds no matching files the counter starts at zero.
func NextFilename(folder, prefix, suffix string) string {
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	count := -1
	entries, err := os.ReadDir(folder)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			fn := e.Name()
			if !strings.HasPrefix(fn, prefix+"_") || !strings.HasSuffix(fn, suffix) {
				continue
			}
			bit := strings.TrimPrefix(fn, prefix+"_")
			bit = strings.TrimSuffix(bit, suffix)
			n, err := strconv.Atoi(bit)
			if err != nil {
				continue
			}
			if n > count {
				count = n
			}
		}
	}
	return fmt.Sprintf("%s_%06d%s", prefix, count+1, suffix)
}

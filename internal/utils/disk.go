package utils

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace returns the bytes available on the volume holding path. Missing
// paths are resolved to their closest existing parent.
func FreeSpace(path string) (int64, error) {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	usage, err := disk.Usage(p)
	if err != nil {
		return 0, err
	}
	return int64(usage.Free), nil
}

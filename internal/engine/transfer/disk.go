package transfer

import (
	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

// FreeSpaceFunc reports the bytes available to unprivileged users on the
// filesystem holding path.
type FreeSpaceFunc func(path string) (int64, error)

// Volume is a directory whose filesystem must keep MinFree bytes available.
// A negative MinFree disables the check. Free defaults to utils.FreeSpace.
type Volume struct {
	Path    string
	MinFree int64
	Free    FreeSpaceFunc
}

var freeSpace FreeSpaceFunc = utils.FreeSpace

// CheckDiskSpace returns a *types.LowDiskSpaceError for the first volume
// below its threshold. Errors querying a volume are ignored.
func CheckDiskSpace(volumes ...Volume) error {
	for _, v := range volumes {
		if v.Path == "" || v.MinFree < 0 {
			continue
		}
		query := v.Free
		if query == nil {
			query = freeSpace
		}
		free, err := query(v.Path)
		if err != nil {
			continue
		}
		if free < v.MinFree {
			return &types.LowDiskSpaceError{Path: v.Path, Free: free, Required: v.MinFree}
		}
	}
	return nil
}

// DiskGuard returns a Transfer.Guard checking volumes on every call
func DiskGuard(volumes ...Volume) func() error {
	return func() error {
		return CheckDiskSpace(volumes...)
	}
}

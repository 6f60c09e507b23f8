//go:build unix

package du

import (
	"io/fs"
	"syscall"
)

type fileID struct {
	dev uint64
	ino uint64
}

// diskUsage returns allocated blocks in bytes. linked is true for regular
// files with more than one hard link.
func diskUsage(info fs.FileInfo) (usage uint64, id fileID, linked bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return uint64(info.Size()), fileID{}, false
	}
	usage = uint64(st.Blocks) * 512
	if info.Mode().IsRegular() && st.Nlink > 1 {
		return usage, fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
	}
	return usage, fileID{}, false
}

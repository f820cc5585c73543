//go:build windows

package filer

import (
	"io/fs"
	"syscall"
	"time"
)

// Windows has no inode change time; creation time takes its place.
func sysTimes(fi fs.FileInfo, t *Times) {
	d, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return
	}
	t.Atime = time.Unix(0, d.LastAccessTime.Nanoseconds())
	t.Ctime = time.Unix(0, d.CreationTime.Nanoseconds())
}

//go:build linux || openbsd

package filer

import (
	"io/fs"
	"syscall"
	"time"
)

func sysTimes(fi fs.FileInfo, t *Times) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	t.Atime = time.Unix(st.Atim.Unix())
	t.Ctime = time.Unix(st.Ctim.Unix())
}

package filer

import (
	"io/fs"
	"time"
)

// Times holds the three timestamps recorded for each observation.
type Times struct {
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
}

// TimesOf extracts timestamps from fi. Platforms that do not expose access
// or change times report the modification time for all three.
func TimesOf(fi fs.FileInfo) Times {
	mt := fi.ModTime()
	t := Times{Mtime: mt, Atime: mt, Ctime: mt}
	sysTimes(fi, &t)
	return t
}

// Seconds converts t to fractional Unix seconds. The zero time maps to 0.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

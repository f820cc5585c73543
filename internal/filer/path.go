package filer

import (
	"path/filepath"
	"runtime"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultCaseFold reports whether the native filesystem of the running
// platform is conventionally case-insensitive.
func DefaultCaseFold() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Canonical returns the stored form of p. Without folding, p is returned
// unchanged. With folding, p is lowercased and NFC-normalized so that
// "Foo.DLL" and "foo.dll" produce the same key. Lowercasing never changes
// the length of a name the way full case folding does: "STRASSE" and
// "straße" stay distinct.
func Canonical(p string, fold bool) string {
	if !fold {
		return p
	}
	return norm.NFC.String(cases.Lower(language.Und).String(p))
}

// FileFor builds the File observation for osPath.
func FileFor(osPath string, fold bool) File {
	return File{
		OSPath: osPath,
		Dir:    Canonical(filepath.Dir(osPath), fold),
		Name:   Canonical(filepath.Base(osPath), fold),
	}
}

// DirectoryFor builds the Directory observation for osPath.
func DirectoryFor(osPath string, fold bool) Directory {
	return Directory{OSPath: osPath, Path: Canonical(osPath, fold)}
}

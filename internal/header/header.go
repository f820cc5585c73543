// Package header extracts structural metadata from executable images.
//
// A Header is a format-neutral summary of one executable: when it was built,
// what kind of image it is, its sections, the libraries and symbols it
// imports and exports, its version resource strings, and any structural
// irregularities noticed while parsing. Every category is optional; a Header
// with no imports or no version info is a normal result.
package header

import (
	"errors"
	"fmt"
)

// ErrFormat marks input that is not a well-formed image of the expected
// format. Callers treat it as "no structural metadata available".
var ErrFormat = errors.New("malformed executable image")

// Header is the structural summary of one executable image.
type Header struct {
	// CompileTime is the linker timestamp in Unix seconds.
	CompileTime int64

	// PEType is "PE32" or "PE32+".
	PEType string

	// Subsystem is the numeric Windows subsystem from the optional header.
	Subsystem int

	Sections    []Section
	Imports     []Import
	Exports     *Export
	VersionInfo map[string]string
	Anomalies   []string
}

// Section describes one section table entry.
type Section struct {
	Name        string
	Size        int64
	VirtualSize int64

	// Entropy is the Shannon entropy of the raw section data in bits per
	// byte, in [0, 8].
	Entropy float64
}

// Function is an imported or exported symbol. Name is empty when the image
// refers to the symbol by ordinal only.
type Function struct {
	Name    string
	Ordinal uint16
}

// DisplayName returns Name, or a stable "0x%04x" ordinal tag when the
// symbol is unnamed.
func (f Function) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("0x%04x", f.Ordinal)
}

// Import lists the functions pulled from one library.
type Import struct {
	Library   string
	Functions []Function
}

// Export lists the functions an image makes available, under the library
// name recorded in its export directory.
type Export struct {
	Library   string
	Functions []Function
}

// Extractor produces a Header for the file at path. Implementations return
// an error wrapping ErrFormat for input they cannot parse.
type Extractor interface {
	Extract(path string) (*Header, error)
}

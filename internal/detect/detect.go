// Package detect labels files by content type.
//
// Labels follow the wording of the file(1) utility so that databases built
// with libmagic and databases built with this package agree on the common
// cases. Executable images that the structural extractor understands are
// recognized by their "PE32" prefix (see IsExecutable).
package detect

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Unknown is the label recorded when no detector is configured or the
// detector fails.
const Unknown = "unknown"

// HeaderSize is the number of leading bytes inspected for detection.
const HeaderSize = 4096

// Detector returns a best-effort type label for the file at path.
type Detector interface {
	Detect(path string) (string, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(path string) (string, error)

// Detect calls f(path).
func (f DetectorFunc) Detect(path string) (string, error) {
	return f(path)
}

// IsExecutable reports whether label names an executable family that the
// structural header extractor can parse.
func IsExecutable(label string) bool {
	return strings.HasPrefix(label, "PE32")
}

// Magic is the built-in Detector. Custom rules are consulted before the
// built-in signatures.
type Magic struct {
	rules []Rule
}

// New returns a Magic detector with optional custom rules.
func New(rules ...Rule) *Magic {
	return &Magic{rules: rules}
}

// NewFromFile returns a Magic detector that loads custom rules from a YAML
// rule file. An empty path yields the built-in rules only.
func NewFromFile(path string) (*Magic, error) {
	if path == "" {
		return New(), nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(rules...), nil
}

// Detect reads the head of the file at path and labels it.
func (m *Magic) Detect(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	return m.DetectBytes(buf[:n]), nil
}

// DetectBytes labels a file given its leading bytes.
func (m *Magic) DetectBytes(head []byte) string {
	if len(head) == 0 {
		return "empty"
	}
	for _, r := range m.rules {
		if r.Match(head) {
			return r.Label
		}
	}
	return builtin(head)
}

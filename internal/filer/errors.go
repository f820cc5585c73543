package filer

import (
	"errors"
	"fmt"
)

// ErrNotAbsolute is returned when Update is given a relative root.
var ErrNotAbsolute = errors.New("root must be an absolute path")

// ConfigError reports invalid input to a Filer operation. It is raised
// before any filesystem or storage access.
type ConfigError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

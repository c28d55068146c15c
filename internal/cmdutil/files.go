package cmdutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// UsageError marks a mistake in flags or configuration. CLIs report it and
// exit 2, distinct from runtime failures.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// IsUsage reports whether err is a UsageError, possibly wrapped.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// RefuseOverwrite guards against clobbering path: it returns a UsageError
// when the file exists and overwrite is unset. Stat failures other than
// absence come back unchanged.
func RefuseOverwrite(path string, overwrite bool) error {
	if path == "" || overwrite {
		return nil
	}
	switch _, err := os.Stat(path); {
	case err == nil:
		return &UsageError{Msg: fmt.Sprintf("refusing to overwrite existing file: %s (use --overwrite)", path)}
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

// Package clipboard copies transcripts to the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported means no clipboard utility was found (xclip, xsel or
// wl-copy on Linux).
var ErrUnsupported = errors.New("clipboard not available")

func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to copy")
	}
	return cb.WriteAll(text)
}

package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const DefaultBinding = "ctrl+shift+space"

// Binding is a global key combination: optional Ctrl and Shift plus one
// key, a-z or space.
type Binding struct {
	Ctrl  bool
	Shift bool
	Key   string
}

func ParseBinding(s string) (Binding, error) {
	var b Binding
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		last := i == len(parts)-1
		switch {
		case !last && (p == "ctrl" || p == "control"):
			b.Ctrl = true
		case !last && p == "shift":
			b.Shift = true
		case last && isKeyName(p):
			b.Key = p
		default:
			return Binding{}, fmt.Errorf("invalid hotkey %q: unknown key %q", s, p)
		}
	}
	if !b.Ctrl && !b.Shift {
		return Binding{}, fmt.Errorf("invalid hotkey %q: needs ctrl or shift", s)
	}
	return b, nil
}

func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	key := strings.ToUpper(b.Key)
	if b.Key == "space" {
		key = "Space"
	}
	return strings.Join(append(parts, key), "+")
}

func isKeyName(k string) bool {
	return k == "space" || (len(k) == 1 && k[0] >= 'a' && k[0] <= 'z')
}

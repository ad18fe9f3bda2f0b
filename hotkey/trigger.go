package hotkey

import "time"

type EventKind int

const (
	// Press fires on every keydown.
	Press EventKind = iota
	// HoldRelease fires when a key held past the long-press threshold is
	// released, for push-to-talk.
	HoldRelease
)

// Trigger turns raw key events into Press and HoldRelease events. A short
// tap produces only Press, so the same combination works as a toggle and
// as push-to-talk.
type Trigger struct {
	events chan EventKind
	done   chan struct{}
}

func NewTrigger(hk Hotkey, longPress time.Duration) *Trigger {
	t := &Trigger{
		events: make(chan EventKind, 4),
		done:   make(chan struct{}),
	}
	go t.run(hk, longPress)
	return t
}

func (t *Trigger) Events() <-chan EventKind { return t.events }

func (t *Trigger) Close() { close(t.done) }

func (t *Trigger) emit(k EventKind) {
	select {
	case t.events <- k:
	default:
	}
}

func (t *Trigger) run(hk Hotkey, longPress time.Duration) {
	for {
		select {
		case <-hk.Keydown():
		case <-t.done:
			return
		}
		t.emit(Press)

		timer := time.NewTimer(longPress)
		select {
		case <-hk.Keyup():
			timer.Stop()
		case <-timer.C:
			select {
			case <-hk.Keyup():
				t.emit(HoldRelease)
			case <-t.done:
				return
			}
		case <-t.done:
			timer.Stop()
			return
		}
	}
}

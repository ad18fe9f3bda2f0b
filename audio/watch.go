package audio

import "time"

// watchInterval is how often a backend without push notifications is
// polled for a lost device.
const watchInterval = 100 * time.Millisecond

// watchFault polls status until stop is closed. The first non-nil error is
// passed to fault and polling ends.
func watchFault(stop <-chan struct{}, every time.Duration, status func() error, fault func(error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := status(); err != nil {
				fault(err)
				return
			}
		}
	}
}

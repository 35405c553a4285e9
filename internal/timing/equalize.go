package timing

import (
	"context"
	"crypto/sha256"
	"time"
)

// hashRounds is sized so the hash loop costs roughly what one bulk
// code lookup costs on commodity hardware. Adjust alongside Floor if
// the search path changes shape.
const hashRounds = 2048

// Equalizer pads the cheap path of a lookup so that it costs roughly
// the same wall-clock time as the expensive path. Floor is the
// minimum total duration measured from start.
type Equalizer struct {
	Floor time.Duration
}

// NewEqualizer returns an Equalizer with the given floor. A zero or
// negative floor disables the sleep and leaves only the hash work.
func NewEqualizer(floor time.Duration) *Equalizer {
	return &Equalizer{Floor: floor}
}

// Burn performs the fixed-cost dummy work: a fixed number of SHA-256
// rounds over the seed. The digest is returned so callers can fold it
// into a sink, keeping the compiler from discarding the loop.
func (e *Equalizer) Burn(seed string) [32]byte {
	sum := sha256.Sum256([]byte(seed))
	for i := 0; i < hashRounds; i++ {
		sum = sha256.Sum256(sum[:])
	}
	return sum
}

// PadTo sleeps until at least Floor has elapsed since start,
// honouring ctx cancellation.
func (e *Equalizer) PadTo(ctx context.Context, start time.Time) {
	if e.Floor <= 0 {
		return
	}
	remaining := e.Floor - time.Since(start)
	if remaining <= 0 {
		return
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

package classifier

import (
	"time"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// Counter is the running debounce state of one violation type.
type Counter struct {
	Positive  int
	Negative  int
	LastFired time.Time
}

// State is the per-session classifier memory: counters, the gaze window and
// the probe latches. It is owned by exactly one session runtime and is not
// safe for concurrent use.
type State struct {
	counters map[domain.ViolationType]*Counter
	gaze     []domain.GazeBucket
	latched  map[domain.ViolationType]bool
}

// NewState returns an empty classifier state.
func NewState() *State {
	return &State{
		counters: make(map[domain.ViolationType]*Counter),
		latched:  make(map[domain.ViolationType]bool),
	}
}

// Counter returns a copy of the counter for t.
func (s *State) Counter(t domain.ViolationType) Counter {
	if c, ok := s.counters[t]; ok {
		return *c
	}
	return Counter{}
}

// GazeHistory returns a copy of the gaze window, oldest first.
func (s *State) GazeHistory() []domain.GazeBucket {
	out := make([]domain.GazeBucket, len(s.gaze))
	copy(out, s.gaze)
	return out
}

// Latched reports whether a once-per-session finding of type t already fired.
func (s *State) Latched(t domain.ViolationType) bool {
	return s.latched[t]
}

// Reset clears every counter, the gaze window and all latches.
func (s *State) Reset() {
	clear(s.counters)
	clear(s.latched)
	s.gaze = s.gaze[:0]
}

func (s *State) counter(t domain.ViolationType) *Counter {
	c, ok := s.counters[t]
	if !ok {
		c = &Counter{}
		s.counters[t] = c
	}
	return c
}

// pushGaze appends b, dropping the oldest entry beyond size.
func (s *State) pushGaze(b domain.GazeBucket, size int) {
	s.gaze = append(s.gaze, b)
	if over := len(s.gaze) - size; over > 0 {
		s.gaze = append(s.gaze[:0], s.gaze[over:]...)
	}
}

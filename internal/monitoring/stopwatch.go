package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stopwatch accumulates named wall-clock timings. It is an explicit value
// handed to callers that want stage timings; there is no process-wide
// timer registry. The zero value is not usable, call NewStopwatch.
type Stopwatch struct {
	started map[string]time.Time
	total   map[string]time.Duration
}

// NewStopwatch returns an empty stopwatch.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{
		started: make(map[string]time.Time),
		total:   make(map[string]time.Duration),
	}
}

// Start begins (or restarts) the named timer.
func (s *Stopwatch) Start(name string) {
	s.started[name] = time.Now()
}

// Stop ends the named timer and adds the elapsed interval to its total.
// Stopping a timer that was never started is a no-op.
func (s *Stopwatch) Stop(name string) time.Duration {
	t0, ok := s.started[name]
	if !ok {
		return 0
	}
	delete(s.started, name)
	d := time.Since(t0)
	s.total[name] += d
	return d
}

// Elapsed returns the accumulated total for the named timer.
func (s *Stopwatch) Elapsed(name string) time.Duration {
	return s.total[name]
}

// Summary renders all accumulated timers sorted by name.
func (s *Stopwatch) Summary() string {
	names := make([]string, 0, len(s.total))
	for name := range s.total {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, s.total[name].Round(time.Microsecond))
	}
	return strings.Join(parts, " ")
}

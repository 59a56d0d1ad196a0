package monitoring

import (
	"strings"
	"testing"
	"time"
)

func TestStopwatch_Accumulates(t *testing.T) {
	sw := NewStopwatch()
	sw.Start("merge")
	time.Sleep(time.Millisecond)
	first := sw.Stop("merge")
	if first <= 0 {
		t.Fatalf("first interval = %v, want > 0", first)
	}
	sw.Start("merge")
	time.Sleep(time.Millisecond)
	sw.Stop("merge")

	if total := sw.Elapsed("merge"); total < first {
		t.Errorf("Elapsed = %v, want at least %v", total, first)
	}
}

func TestStopwatch_StopWithoutStart(t *testing.T) {
	sw := NewStopwatch()
	if d := sw.Stop("never"); d != 0 {
		t.Errorf("Stop of unstarted timer = %v, want 0", d)
	}
}

func TestStopwatch_Summary(t *testing.T) {
	sw := NewStopwatch()
	sw.Start("b")
	sw.Stop("b")
	sw.Start("a")
	sw.Stop("a")
	summary := sw.Summary()
	if !strings.Contains(summary, "a=") || !strings.Contains(summary, "b=") {
		t.Errorf("summary missing timers: %q", summary)
	}
	if strings.Index(summary, "a=") > strings.Index(summary, "b=") {
		t.Errorf("summary not sorted: %q", summary)
	}
}

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)
	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("hello %d", 1)
	if got != "hello %d" {
		t.Errorf("custom logger not invoked, got %q", got)
	}
	SetLogger(nil)
	Logf("muted") // must not panic
}

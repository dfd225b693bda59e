package realtime

import (
	"testing"
	"time"
)

func TestPollerTicksUntilStopped(t *testing.T) {
	resync := newResyncCounter()
	p := NewPoller(resync.Resync, 5*time.Millisecond, nil)

	p.Start()
	p.Start()

	for i := 0; i < 2; i++ {
		select {
		case <-resync.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not resync", i+1)
		}
	}

	p.Stop()
	after := resync.Calls()
	time.Sleep(30 * time.Millisecond)

	if resync.Calls() != after {
		t.Errorf("resync ran %d times after Stop()", resync.Calls()-after)
	}
	p.Stop()
}

func TestNewPollerDefaults(t *testing.T) {
	p := NewPoller(newResyncCounter().Resync, 0, nil)

	if p.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultPollInterval)
	}
	if p.logger == nil {
		t.Error("NewPoller() should set noop logger when nil")
	}
}

package worker

import (
	"testing"
	"time"
)

func TestNewWiresConfiguredIntervals(t *testing.T) {
	heartbeat := 15 * time.Second
	staleAfter := 10 * time.Minute

	p := New(nil, nil, nil, heartbeat, staleAfter)

	if p.heartbeatInterval != heartbeat {
		t.Errorf("heartbeatInterval = %v, want %v", p.heartbeatInterval, heartbeat)
	}
	if p.reaperStaleAfter != staleAfter {
		t.Errorf("reaperStaleAfter = %v, want %v", p.reaperStaleAfter, staleAfter)
	}
}

func TestDequeueTimeoutIsPositiveAndBounded(t *testing.T) {
	if dequeueTimeout <= 0 {
		t.Fatal("dequeueTimeout must be positive so workers actually block")
	}
	if dequeueTimeout > 30*time.Second {
		t.Errorf("dequeueTimeout = %v, too long to notice ctx cancellation promptly", dequeueTimeout)
	}
}

package dbus

import (
	"testing"
	"time"
)

func TestResolveCallOptionsDefaults(t *testing.T) {
	o := resolveCallOptions(nil)
	if o.timeout != defaultCallTimeout {
		t.Errorf("timeout = %s, want default %s", o.timeout, defaultCallTimeout)
	}
	if o.noReply {
		t.Error("noReply should default to false")
	}
}

func TestResolveCallOptionsWithTimeout(t *testing.T) {
	o := resolveCallOptions([]CallOption{WithTimeout(5 * time.Second)})
	if o.timeout != 5*time.Second {
		t.Errorf("timeout = %s, want 5s", o.timeout)
	}
}

func TestResolveCallOptionsWithNoReply(t *testing.T) {
	o := resolveCallOptions([]CallOption{WithNoReply()})
	if !o.noReply {
		t.Error("noReply should be true after WithNoReply")
	}
	// WithNoReply should not disturb the default timeout.
	if o.timeout != defaultCallTimeout {
		t.Errorf("timeout = %s, want default %s", o.timeout, defaultCallTimeout)
	}
}

func TestResolveCallOptionsLastWriterWins(t *testing.T) {
	o := resolveCallOptions([]CallOption{
		WithTimeout(5 * time.Second),
		WithTimeout(10 * time.Second),
	})
	if o.timeout != 10*time.Second {
		t.Errorf("timeout = %s, want 10s (last option wins)", o.timeout)
	}
}

package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

// timeoutErr satisfies net.Error the way a dial timeout does.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient_Nil(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error must not be transient")
	}
}

func TestIsTransient_ExplicitMarker(t *testing.T) {
	base := NewTransientError(errors.New("mirror throttled"), 429)
	wrapped := fmt.Errorf("download allCountries.zip: %w", base)
	if !IsTransient(wrapped) {
		t.Error("wrapped TransientError must stay transient")
	}
}

func TestIsTransient_NetTimeout(t *testing.T) {
	err := fmt.Errorf("get dump: %w", timeoutErr{})
	if !IsTransient(err) {
		t.Error("network timeout must be transient")
	}
}

func TestIsTransient_RefusedConnection(t *testing.T) {
	err := fmt.Errorf("dial authority: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("refused connection must be transient")
	}
}

func TestIsTransient_MessageHeuristics(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"read tcp 10.0.0.8:5432: connection reset by peer", true},
		{"FATAL: the database system is starting up", true},
		{"FATAL: sorry, too many clients already", true},
		{"write: broken pipe", true},
		{"unexpected EOF", true},
		{"acquire: conn closed", true},
		{"lookup download.geonames.org: no such host", true},
		{"ERROR: permission denied for table places", false},
		{"ERROR: syntax error at or near \"SELEC\"", false},
		{"no rows in result set", false},
		{"context canceled", false},
	}

	for _, tt := range tests {
		if got := IsTransient(errors.New(tt.msg)); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}

	permanent := []int{200, 204, 301, 304, 400, 401, 403, 404, 410, 418, 501}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	sentinel := errors.New("root cause")
	te := NewTransientError(sentinel, 503)
	if !errors.Is(te, sentinel) {
		t.Error("TransientError must unwrap to the cause")
	}
	if te.Error() != sentinel.Error() {
		t.Errorf("Error() = %q", te.Error())
	}
	if te.StatusCode != 503 {
		t.Errorf("StatusCode = %d", te.StatusCode)
	}
}

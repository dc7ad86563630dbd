package llmretry

import (
	"errors"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("unexpected status 429"), true},
		{errors.New("unexpected status 503"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("unexpected status 400"), false},
		{errors.New("invalid json payload"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsPermanent_WrapsPermanentError(t *testing.T) {
	var target *PermanentError
	err := &PermanentError{Err: errors.New("bad request")}
	if !isPermanent(err, &target) {
		t.Fatalf("expected PermanentError to be classified permanent")
	}
	if target == nil || target.Error() != "bad request" {
		t.Fatalf("target not populated correctly: %v", target)
	}
}

func TestIsPermanent_400InMessage(t *testing.T) {
	var target *PermanentError
	if !isPermanent(errors.New("unexpected status 400"), &target) {
		t.Fatalf("expected status-400 message to be classified permanent")
	}
}

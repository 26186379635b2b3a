package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid posting", fmt.Errorf("insert: %w", ErrInvalidPosting), http.StatusBadRequest},
		{"bad profile", ErrInvalidProfile, http.StatusBadRequest},
		{"duplicate", ErrDuplicate, http.StatusConflict},
		{"peer", fmt.Errorf("peer a: %w", ErrPeerUnavailable), http.StatusBadGateway},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"closed", ErrSessionClosed, http.StatusGone},
		{"internal", Internalf("bounds inverted"), http.StatusInternalServerError},
		{"app error", New(ErrInvalidInput, http.StatusUnprocessableEntity, "q"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(fmt.Errorf("x: %w", ErrSourceFailed)) {
		t.Error("source failure must be recoverable")
	}
	err := Internalf("quality min %d > max %d", 5, 3)
	if IsRecoverable(err) {
		t.Error("internal error must not be recoverable")
	}
	if !errors.Is(err, ErrInternal) {
		t.Error("Internalf must wrap ErrInternal")
	}
}

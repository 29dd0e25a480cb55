package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	errUnbalanced := New(ErrInvalid, "journal entry does not balance")
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NotFound("customer CUS-2026-0001"), http.StatusNotFound},
		{fmt.Errorf("post purchase: %w", New(ErrConflict, "already posted")), http.StatusConflict},
		{fmt.Errorf("post entry: %w", errUnbalanced), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestKindErrorMessage(t *testing.T) {
	err := NotFound("vehicle VEH-2026-0003")
	if err.Error() != "vehicle VEH-2026-0003 not found" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected errors.Is to match ErrNotFound")
	}
}

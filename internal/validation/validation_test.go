package validation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{"0", ""},
		{"12.50", ""},
		{"-1", "must be non-negative"},
		{"1.005", "must have at most 2 decimal places"},
		{"1.500", ""},
		{"2000000000", "exceeds maximum"},
	}
	for _, tt := range tests {
		ve := &ValidationErrors{}
		ValidateAmount(ve, "amount", decimal.RequireFromString(tt.in))
		if tt.wantErr == "" {
			if ve.HasErrors() {
				t.Errorf("%s: unexpected error %s", tt.in, ve.Error())
			}
			continue
		}
		if !strings.Contains(ve.Error(), tt.wantErr) {
			t.Errorf("%s: expected %q, got %q", tt.in, tt.wantErr, ve.Error())
		}
	}
}

func TestValidatePositiveAmount(t *testing.T) {
	ve := &ValidationErrors{}
	ValidatePositiveAmount(ve, "amount", decimal.Zero)
	if !ve.HasErrors() {
		t.Error("Expected zero to be rejected")
	}
}

func TestValidateEnum(t *testing.T) {
	ve := &ValidationErrors{}
	ValidateEnum(ve, "status", "", ValidPartyStatuses)
	ValidateEnum(ve, "status", "active", ValidPartyStatuses)
	if ve.HasErrors() {
		t.Fatalf("Unexpected errors: %s", ve.Error())
	}
	ValidateEnum(ve, "status", "archived", ValidPartyStatuses)
	if len(ve.Errors) != 1 || ve.Errors[0].Field != "status" {
		t.Errorf("Expected one status error, got %+v", ve.Errors)
	}
}

func TestValidateDateOrder(t *testing.T) {
	ve := &ValidationErrors{}
	ValidateDateOrder(ve, "to", "2026-03-01", "2026-02-01")
	if !ve.HasErrors() {
		t.Error("Expected error for reversed range")
	}
	ve = &ValidationErrors{}
	ValidateDateOrder(ve, "to", "2026-02-01", "2026-02-01")
	if ve.HasErrors() {
		t.Error("Same-day range should be valid")
	}
}

func TestValidateAccountCode(t *testing.T) {
	for _, ok := range []string{"1000", "1100-01", "500"} {
		ve := &ValidationErrors{}
		ValidateAccountCode(ve, "code", ok)
		if ve.HasErrors() {
			t.Errorf("%s should be valid", ok)
		}
	}
	for _, bad := range []string{"12", "ABCD", "1000 ", "1000-"} {
		ve := &ValidationErrors{}
		ValidateAccountCode(ve, "code", bad)
		if !ve.HasErrors() {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestErrAndAsValidation(t *testing.T) {
	ve := &ValidationErrors{}
	if ve.Err() != nil {
		t.Error("Expected nil error when empty")
	}
	ve.Add("qty", "must be a positive number")
	wrapped := fmt.Errorf("create purchase: %w", ve.Err())
	got, ok := AsValidation(wrapped)
	if !ok || len(got.Errors) != 1 {
		t.Errorf("Expected wrapped validation errors, got %v", wrapped)
	}
}

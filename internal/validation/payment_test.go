package validation

import (
	"math"
	"testing"
	"time"
)

func TestToCents(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{25.00, 2500},
		{4.35, 435},
		{19.99, 1999},
		{0.01, 1},
		{0, 0},
	}

	for _, tt := range tests {
		if got := ToCents(tt.amount); got != tt.want {
			t.Errorf("ToCents(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestIsValidCurrency(t *testing.T) {
	valid := []string{"CAD", "USD", "eur"}
	invalid := []string{"", "CA", "CAD$", "123"}

	for _, c := range valid {
		if !IsValidCurrency(c) {
			t.Errorf("IsValidCurrency(%q) = false, want true", c)
		}
	}
	for _, c := range invalid {
		if IsValidCurrency(c) {
			t.Errorf("IsValidCurrency(%q) = true, want false", c)
		}
	}
}

func TestIsValidDate(t *testing.T) {
	if IsValidDate(time.Time{}) {
		t.Error("zero date must be invalid")
	}
	if !IsValidDate(time.Now()) {
		t.Error("current date must be valid")
	}
	if IsValidDate(time.Now().Add(48 * time.Hour)) {
		t.Error("far future date must be invalid")
	}
}

func TestIsFiniteAmount(t *testing.T) {
	if IsFiniteAmount(math.NaN()) || IsFiniteAmount(math.Inf(1)) {
		t.Error("NaN and Inf must be rejected")
	}
	if !IsFiniteAmount(100.5) {
		t.Error("ordinary amount must be accepted")
	}
}

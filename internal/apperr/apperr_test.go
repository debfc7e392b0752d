package apperr

import (
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInternal, http.StatusInternalServerError},
		{KindValidation, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindPaymentRequired, http.StatusPaymentRequired},
		{KindConflict, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
	}
	for _, c := range cases {
		e := New(c.kind, "code", "message")
		if got := e.Status(); got != c.want {
			t.Errorf("Kind %d: Status() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestBannedIsForbidden(t *testing.T) {
	e := Banned()
	if e.Status() != http.StatusForbidden {
		t.Fatalf("Banned().Status() = %d, want 403", e.Status())
	}
	if e.Code != "banned" {
		t.Fatalf("Banned().Code = %q, want \"banned\"", e.Code)
	}
}

func TestQuotaExceededIsPaymentRequired(t *testing.T) {
	e := QuotaExceeded()
	if e.Status() != http.StatusPaymentRequired {
		t.Fatalf("QuotaExceeded().Status() = %d, want 402", e.Status())
	}
}

func TestErrorSatisfiesErrorInterface(t *testing.T) {
	var err error = New(KindValidation, "bad_input", "input was bad")
	if err.Error() != "input was bad" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "input was bad")
	}
}

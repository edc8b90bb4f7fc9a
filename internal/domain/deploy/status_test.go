package deploy

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusPending, StatusPending, false},
	}

	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("ValidateTransition(%s, %s) error = %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("ValidateTransition(%s, %s) error = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus(" Completed ")
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if got != StatusCompleted || !got.IsTerminal() {
		t.Fatalf("ParseStatus() = %q", got)
	}

	if _, err := ParseStatus("done"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus() error = %v, want ErrInvalidStatus", err)
	}
}

package common

import (
	"errors"
	"testing"
)

func TestErrKindString(t *testing.T) {
	cases := map[ErrKind]string{
		ErrZip:            "zip",
		ErrUnsupportedZip64: "unsupportedZip64",
		ErrBufferTooSmall: "bufferTooSmall",
		ErrLimitExceeded:  "limitExceeded",
		ErrXML:            "xml",
		ErrCSS:            "css",
		ErrFontResolution: "fontResolution",
		ErrCancelled:      "cancelled",
		ErrIO:             "io",
		ErrKind(99):       "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("ErrKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestNewErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrIO, cause)
	if !errors.Is(err, cause) {
		t.Fatal("NewError's Unwrap does not expose the original cause")
	}
	if err.Error() == "" {
		t.Fatal("Error() returned an empty string")
	}
}

func TestNewLimitExceededCarriesContext(t *testing.T) {
	err := NewLimitExceeded(LimitZipEntries, 5000, 4096)
	if err.Kind != ErrLimitExceeded {
		t.Fatalf("Kind = %v, want ErrLimitExceeded", err.Kind)
	}
	if err.Context.LimitKind != LimitZipEntries || err.Context.LimitActual != 5000 || err.Context.LimitMax != 4096 {
		t.Fatalf("unexpected Context: %+v", err.Context)
	}
}

func TestNewBufferTooSmallCarriesNeeded(t *testing.T) {
	err := NewBufferTooSmall(128)
	if err.Kind != ErrBufferTooSmall {
		t.Fatalf("Kind = %v, want ErrBufferTooSmall", err.Kind)
	}
	if err.Context.BufferNeeded != 128 {
		t.Fatalf("Context.BufferNeeded = %d, want 128", err.Context.BufferNeeded)
	}
}

func TestCancelledIsASentinelOfKindCancelled(t *testing.T) {
	var err *Error
	if !errors.As(Cancelled, &err) {
		t.Fatal("Cancelled is not a *Error")
	}
	if err.Kind != ErrCancelled {
		t.Fatalf("Cancelled.Kind = %v, want ErrCancelled", err.Kind)
	}
}

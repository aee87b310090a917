package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	Logf("dropping tick %d", 42)

	if got != "dropping tick 42" {
		t.Errorf("captured %q, want %q", got, "dropping tick 42")
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	Logf("should go nowhere")

	if called {
		t.Error("muted logger still reached the previous sink")
	}
	if Logf == nil {
		t.Error("Logf must never be nil")
	}
}

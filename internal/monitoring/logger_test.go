package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger_Custom(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...any) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("run %d claimed", 7)

	if len(got) != 1 || got[0] != "run 7 claimed" {
		t.Errorf("captured lines = %v, want [run 7 claimed]", got)
	}
}

func TestSetLogger_NilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...any) { called = true })
	SetLogger(nil)
	Logf("dropped")

	if called {
		t.Error("nil logger must not invoke the previous logger")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must not be nil by default")
	}
}

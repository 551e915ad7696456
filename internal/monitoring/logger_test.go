package monitoring

import "testing"

func TestSetLoggerRedirectsOutput(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
	})

	Logf("resync at offset %d", 7)
	if got != "resync at offset %d" {
		t.Errorf("expected redirected logger to receive format string, got %q", got)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	SetLogger(nil)

	// Muted logger must swallow calls without panicking.
	Logf("dropped %v", "message")

	// A later replacement takes effect again.
	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	Logf("hello")
	if !called {
		t.Error("replacement logger was not called after muting")
	}
}

func TestLogfDefaultIsUsable(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must not be nil by default")
	}
	Logf("driver diagnostics: %s", "ok")
}

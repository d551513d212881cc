package logging

import "testing"

func TestParseLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "warning", "error", "DEBUG", ""} {
		if _, err := ParseLogLevel(lvl); err != nil {
			t.Errorf("expected level %q to be valid, got %v", lvl, err)
		}
	}

	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("expected error for invalid level")
	}
}

func TestInitLoggersChangesExistingLoggers(t *testing.T) {
	defer func() { _ = InitLoggers("info") }()

	l := GetLogger("test")

	if err := InitLoggers("error"); err != nil {
		t.Fatal(err)
	}
	if IsDebug() {
		t.Errorf("debug should be disabled at error level")
	}

	if err := InitLoggers("debug"); err != nil {
		t.Fatal(err)
	}
	if !IsDebug() {
		t.Errorf("debug should be enabled after InitLoggers(debug)")
	}
	if !l.Desugar().Core().Enabled(-1) {
		t.Errorf("logger created before InitLoggers should follow the shared level")
	}
}

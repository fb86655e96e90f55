package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_WritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)
	l.Debug().Msg("hidden")
	l.Info().Str("template", "blood_pressure").Msg("loaded")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message should be filtered: %s", out)
	}
	if !strings.Contains(out, `"template":"blood_pressure"`) || !strings.Contains(out, `"component":"openfhir"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestPackageFunctionsUseDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(&buf, LevelDebug))
	Warn("mapping %s skipped", "systolic")
	if !strings.Contains(buf.String(), "mapping systolic skipped") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	Disable()
	Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"":      LevelInfo,
		"bogus": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

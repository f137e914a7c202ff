package shared

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestFingerprintFile(t *testing.T) {
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := FingerprintFile("videos/a.mp4", 100, mod)

	tc := []struct {
		name string
		path string
		size int64
		mod  time.Time
		same bool
	}{
		{name: "identical inputs", path: "videos/a.mp4", size: 100, mod: mod, same: true},
		{name: "uncleaned path", path: "videos/./a.mp4", size: 100, mod: mod, same: true},
		{name: "different size", path: "videos/a.mp4", size: 101, mod: mod},
		{name: "different modification time", path: "videos/a.mp4", size: 100, mod: mod.Add(time.Nanosecond)},
		{name: "different path", path: "videos/b.mp4", size: 100, mod: mod},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := FingerprintFile(tt.path, tt.size, tt.mod)
			if (got == base) != tt.same {
				t.Errorf("FingerprintFile() equal = %v, want %v", got == base, tt.same)
			}
			if len(got) != 64 {
				t.Errorf("expected 64 hex characters, got %d", len(got))
			}
		})
	}
}

func TestHumanBytes(t *testing.T) {
	tc := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 B"},
		{in: 1023, want: "1023 B"},
		{in: 1024, want: "1.0 KiB"},
		{in: 10 << 20, want: "10.0 MiB"},
		{in: 25 << 20, want: "25.0 MiB"},
		{in: 3 << 30, want: "3.0 GiB"},
	}

	for _, tt := range tc {
		t.Run(tt.want, func(t *testing.T) {
			if got := HumanBytes(tt.in); got != tt.want {
				t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		in   string
		want log.Level
	}{
		{in: "", want: log.InfoLevel},
		{in: "debug", want: log.DebugLevel},
		{in: "WARN", want: log.WarnLevel},
		{in: "error", want: log.ErrorLevel},
		{in: "nonsense", want: log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggers(t *testing.T) {
	t.Run("NewLogger writes structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "unit", "a.mp4")
		logger.Info("chunk sent", "offset", 1024)

		out := buf.String()
		for _, want := range []string{"chunk sent", "unit=a.mp4", "offset=1024"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in log output, got %q", want, out)
			}
		}
	})

	t.Run("SetLogLevel filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.WarnLevel)
		logger.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("expected info to be filtered, got %q", buf.String())
		}
	})

	t.Run("NewFileLogger creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "nested", "ytup.log")
		logger, f, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger() error = %v", err)
		}
		defer f.Close()

		logger.Info("hello")
		if f.Name() != path {
			t.Errorf("expected log file %s, got %s", path, f.Name())
		}
	})
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected distinct IDs")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

package envconfig

import (
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("NOISYCLIP_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("LogLevel(%q) = %v, erwartet %v", k, i, v)
			}
		})
	}
}

func TestDevices(t *testing.T) {
	cases := map[string]uint{
		"":    0,
		"4":   4,
		"abc": 0,
		"-1":  0,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("NOISYCLIP_DEVICES", k)
			if i := Devices(); i != v {
				t.Errorf("Devices(%q) = %d, erwartet %d", k, i, v)
			}
		})
	}
}

func TestVarTrimsQuotes(t *testing.T) {
	t.Setenv("NOISYCLIP_ORT_LIBRARY", `  "/opt/ort/libonnxruntime.so" `)
	if got := OrtLibrary(); got != "/opt/ort/libonnxruntime.so" {
		t.Errorf("OrtLibrary() = %q", got)
	}
}

func TestBoolFlags(t *testing.T) {
	t.Setenv("NOISYCLIP_NO_PROGRESS", "1")
	if !NoProgress() {
		t.Error("NoProgress() = false, erwartet true")
	}

	// unparsebare Werte gelten als gesetzt
	t.Setenv("NOISYCLIP_NO_PROGRESS", "yes please")
	if !NoProgress() {
		t.Error("NoProgress() = false, erwartet true")
	}

	t.Setenv("NOISYCLIP_NO_PROGRESS", "false")
	if NoProgress() {
		t.Error("NoProgress() = true, erwartet false")
	}
}

func TestThreadsDefault(t *testing.T) {
	t.Setenv("NOISYCLIP_THREADS", "")
	if Threads() <= 0 {
		t.Errorf("Threads() = %d, erwartet > 0", Threads())
	}

	t.Setenv("NOISYCLIP_THREADS", "3")
	if Threads() != 3 {
		t.Errorf("Threads() = %d, erwartet 3", Threads())
	}
}

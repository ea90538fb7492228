package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	for _, production := range []bool{false, true} {
		log, err := New(production, "warn")
		if err != nil {
			t.Fatal(err)
		}
		if log.Core().Enabled(zapcore.InfoLevel) || !log.Core().Enabled(zapcore.WarnLevel) {
			t.Fatalf("production=%v: warn logger has wrong level", production)
		}
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := New(false, "loud"); err == nil {
		t.Fatal("unknown level accepted")
	}
}

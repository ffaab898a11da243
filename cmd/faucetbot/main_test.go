package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/gateway-fm/faucetbot/internal/chain/chaintest"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{"defaults", "", "", false, true},
		{"debug text", "debug", "text", true, false},
		{"upper case", "DEBUG", "JSON", true, true},
		{"warn", "warn", "json", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.level, tt.format)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			logger.Error("hello")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
				t.Errorf("output %q, want json=%v", buf.String(), tt.wantJSON)
			}
		})
	}
}

func TestResolveChainID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := chaintest.New()

	id, err := resolveChainID(context.Background(), fc, 0, logger)
	if err != nil || id.Int64() != 1315 {
		t.Errorf("auto = %v, %v", id, err)
	}
	if _, err := resolveChainID(context.Background(), fc, 1315, logger); err != nil {
		t.Errorf("matching: %v", err)
	}
	if _, err := resolveChainID(context.Background(), fc, 1514, logger); err == nil {
		t.Error("expected mismatch error")
	}
}

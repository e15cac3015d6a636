package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNoopHandler_DiscardsByDefault(t *testing.T) {
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger must not be enabled until SetLevel is called")
	}
}

func TestSetLevel_InstallsRealHandler(t *testing.T) {
	SetLevel(slog.LevelInfo)
	defer func() { logger = slog.New(noopHandler{}) }()

	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("SetLevel(LevelInfo) must enable Info-level records")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("SetLevel(LevelInfo) must not enable Debug-level records")
	}
}

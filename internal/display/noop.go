package display

import (
	"context"
	"time"
)

// NoopDisplay is a Display that does nothing (used when no broker is configured).
type NoopDisplay struct{}

func (NoopDisplay) ShowFrame(ctx context.Context, f Frame) error { return nil }

func (NoopDisplay) ShowError(ctx context.Context, port, code string, hold time.Duration) error {
	return nil
}

func (NoopDisplay) ShowMessage(ctx context.Context, port, text string, hold time.Duration) error {
	return nil
}

func (NoopDisplay) PlayPairAnimation(ctx context.Context, port string) error { return nil }

func (NoopDisplay) Close() error { return nil }

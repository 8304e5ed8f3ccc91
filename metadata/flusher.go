package metadata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartFlusher starts a background goroutine that periodically writes unflushed
// index mutations to the manifest. It is a no-op in write-through mode.
func (i *Index) StartFlusher(ctx context.Context) {
	interval := i.opts.FlushInterval
	if interval <= 0 {
		return
	}

	go func() {
		i.logger.Info("Starting manifest flush worker",
			zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				i.flushOnce()
			case <-ctx.Done():
				i.logger.Info("Manifest flush worker shutting down")
				i.flushOnce()
				return
			}
		}
	}()
}

func (i *Index) flushOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := i.Flush(ctx); err != nil {
		i.logger.Error("Periodic manifest flush failed", zap.Error(err))
	}
}

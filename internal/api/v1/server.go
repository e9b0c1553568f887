package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

// DefaultShutdownGrace bounds how long in-flight requests may finish.
const DefaultShutdownGrace = 10 * time.Second

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests for at most grace.
func (c *Controller) Serve(ctx context.Context, addr string, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Info("http server listening", logger.String("addr", addr))
		errCh <- c.Echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "http server on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := c.Echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "http server shutdown")
	}
	c.log.Info("http server stopped")
	return nil
}

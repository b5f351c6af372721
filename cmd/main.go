package main

import (
	"os"
	"os/signal"
	"syscall"

	"tradecore/internal/bootstrap"
	"tradecore/pkg/logger"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Log.Errorw("Startup failed", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(c, c.Log)
}

// waitForShutdown blocks until SIGINT/SIGTERM or a fatal component error,
// then performs graceful shutdown
func waitForShutdown(c *bootstrap.Container, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutting down...", "signal", sig.String())
	case <-c.Context.Done():
		log.Warn("Application context cancelled, shutting down...")
	}

	c.Shutdown()
}

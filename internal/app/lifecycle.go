package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the whole ordered shutdown, independent of the
// pipeline drain grace.
const shutdownTimeout = 45 * time.Second

// Run starts every component in dependency order, supervises background
// tasks, and blocks until ctx is cancelled or a termination signal
// arrives. The reverse-order shutdown runs before Run returns.
func (c *Container) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.start(ctx); err != nil {
		c.shutdown()
		return err
	}

	background, cancelBackground := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(background)
	group.Go(func() error {
		c.Heartbeat.Run(background)
		return nil
	})
	group.Go(func() error {
		c.Sessions.RunCleanupLoop(background)
		return nil
	})

	c.Logger.Info("orchestrator running")
	<-ctx.Done()
	c.Logger.Info("shutdown signal received")

	err := c.shutdown()

	cancelBackground()
	if waitErr := group.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

// start brings components up in dependency order: persistence and context
// are ready from construction; registry heartbeat and cleanup run as
// background tasks once everything else accepted work.
func (c *Container) start(ctx context.Context) error {
	c.Metrics.Start()

	if c.mqttClient != nil {
		token := c.mqttClient.Connect()
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			// The paho client reconnects in the background; degraded start
			// is better than none for an optional transport.
			c.Logger.Warn("mqtt broker not reachable at startup", "error", token.Error())
		}
	}

	if err := c.Pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := c.Bridge.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch: %w", err)
	}
	return nil
}

// shutdown stops in reverse order: no new submissions, drain the queue,
// stop adapters, flush state, close the store.
func (c *Container) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(c.Pipeline.Stop(ctx))
	keep(c.Bridge.Stop(ctx))

	if c.mqttClient != nil && c.mqttClient.IsConnectionOpen() {
		c.mqttClient.Disconnect(250)
	}

	c.Metrics.Stop(ctx)
	keep(c.Store.Close())

	if firstErr != nil {
		c.Logger.Error("shutdown finished with error", "error", firstErr)
	} else {
		c.Logger.Info("shutdown complete")
	}
	return firstErr
}

// Package app owns the application lifecycle for the R-25 trading bot: it
// wires the collaborators together, runs the scanner and its supporting
// loops, and drains open positions on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Denny-smart/R-25V1/internal/config"
	"github.com/Denny-smart/R-25V1/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and runs the bot until ctx is canceled or a
// fatal error stops it. The first cancellation stops scanning but keeps open
// positions monitored to completion; a second interrupt while draining
// force-closes the open trade at market.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Support loops (event dispatch, archiving) outlive the scan context so
	// closing trades still notify during the drain.
	supportCtx, stopSupport := context.WithCancel(context.Background())
	defer stopSupport()

	var support errgroup.Group
	support.Go(func() error {
		if err := deps.Bus.Run(supportCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if deps.Archiver != nil {
		support.Go(func() error {
			if err := deps.Archiver.Run(supportCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	go a.forceCloseOnSecondInterrupt(ctx, supportCtx, deps)

	runErr := deps.Orchestrator.Run(ctx)

	if deps.Engine.HasOpenTrade() {
		a.logger.Info("waiting for open trade to finish monitoring (interrupt again to close at market)")
	}
	deps.Engine.Wait()

	stopSupport()
	if err := support.Wait(); err != nil {
		a.logger.Error("support loop failed", slog.String("error", err.Error()))
	}

	// The dispatch loop has stopped; deliver whatever it had not picked up
	// yet so the final trade-closed events still reach the senders.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	deps.Bus.Flush(flushCtx)

	return runErr
}

// forceCloseOnSecondInterrupt waits for the run context to be canceled and
// then for one more interrupt; the second interrupt closes the open trade at
// market instead of waiting for its exit levels.
func (a *App) forceCloseOnSecondInterrupt(runCtx, drainCtx context.Context, deps *Dependencies) {
	select {
	case <-runCtx.Done():
	case <-drainCtx.Done():
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		a.logger.Warn("second interrupt received, closing open trade at market")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := deps.Engine.CloseAll(ctx, domain.CloseReasonManual); err != nil {
			a.logger.Error("manual close failed", slog.String("error", err.Error()))
		}
	case <-drainCtx.Done():
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

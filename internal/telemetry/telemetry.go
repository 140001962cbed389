// Package telemetry wires the leaf packages (canbus, sender, ring,
// recovery, receiver, decode, broker, pubsub, stats, api) into the two
// actor bundles the node roles need: the car side (ingest + batching +
// recovery server) and the base side (receive + recovery client +
// decode + broadcast + HTTP API).
package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wfr/daq-telemetry/internal/config"
)

// Run starts the actors named by cfg.Role and blocks until ctx is
// cancelled. It returns an error only when the role is unknown or an
// actor bundle fails to start; errors of running actors are logged by
// the actors themselves, not returned.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	stop := make(chan struct{})
	group, gctx := errgroup.WithContext(ctx)

	var err error
	mode := func() string { return "remote" }

	switch cfg.Role {
	case config.RoleCar:
		_, err = runCarSide(cfg, logger, stop)
	case config.RoleBase:
		_, err = runBaseSide(cfg, logger, mode, stop)
	case config.RoleAuto:
		var car *carSide
		car, err = runCarSide(cfg, logger, stop)
		if err == nil {
			mode = func() string { return car.source.Mode() }
			_, err = runBaseSide(cfg, logger, mode, stop)
		}
	default:
		return fmt.Errorf("telemetry: unknown role %q", cfg.Role)
	}
	if err != nil {
		close(stop)
		return fmt.Errorf("telemetry: start role %s: %w", cfg.Role, err)
	}

	group.Go(func() error {
		<-gctx.Done()
		close(stop)
		return gctx.Err()
	})

	logger.Info("telemetry: running", zap.String("role", string(cfg.Role)), zap.String("node_id", cfg.NodeID))

	if waitErr := group.Wait(); waitErr != nil && gctx.Err() == nil {
		return waitErr
	}
	return nil
}

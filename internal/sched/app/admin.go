package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/xlatesched/internal/health"
)

// newAdminMux builds the admin HTTP server's routes: liveness, readiness,
// and a Prometheus-scrapeable /metrics. The Prometheus exporter bridge
// wired in internal/observe.InitProvider registers against the default
// registerer, so the default promhttp handler is already wired to it.
func (a *App) newAdminMux() *http.ServeMux {
	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "redis", Check: a.checkRedis},
		health.Checker{Name: "instance_presence", Check: a.checkInstancePresence},
	).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (a *App) checkRedis(ctx context.Context) error {
	return a.redis.Ping(ctx).Err()
}

// checkInstancePresence reports readiness against this instance's own Redis
// presence record, so a renewal-loop stall surfaces before the instance is
// dropped as stale by the rest of the fleet.
func (a *App) checkInstancePresence(ctx context.Context) error {
	alive, err := a.rt.InstanceAlive(ctx, a.cfg.InstanceID)
	if err != nil {
		return err
	}
	if !alive {
		return fmt.Errorf("app: instance %q presence not current", a.cfg.InstanceID)
	}
	return nil
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

const readyCheckTimeout = 5 * time.Second

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecks names the dependencies the readiness probe exercises. A nil
// entry is reported as skipped rather than failing the probe.
type ReadyChecks struct {
	DB       Pinger
	Redis    Pinger
	PubSub   Pinger
	BigQuery Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-AdPilot-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every configured dependency and reports per-component
// status. Any failing component turns the probe into a 503.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ReadyChecks) http.HandlerFunc {
	components := []struct {
		name   string
		pinger Pinger
	}{
		{"db", checks.DB},
		{"redis", checks.Redis},
		{"pubsub", checks.PubSub},
		{"bigquery", checks.BigQuery},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-AdPilot-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		statuses := make(map[string]string, len(components))
		healthy := true
		for _, component := range components {
			if component.pinger == nil {
				statuses[component.name] = "skipped"
				continue
			}
			if err := component.pinger.Ping(ctx); err != nil {
				statuses[component.name] = "unreachable"
				healthy = false
				logg.Warn(logg.WithField(ctx, "component", component.name), "readiness check failed")
				continue
			}
			statuses[component.name] = "ok"
		}

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(statuses)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "components": statuses})
	}
}

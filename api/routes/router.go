package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adpilot-hq/adpilot-backend/api/controllers"
	"github.com/adpilot-hq/adpilot-backend/api/middleware"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

// NewRouter assembles the operator API. Health and the public ping stay open;
// everything under /api/v1 requires the operator token.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	checks controllers.ReadyChecks,
	optimizerService controllers.OptimizerService,
	snapshotsService controllers.SnapshotsService,
	advertisersService controllers.AdvertisersService,
	capsService controllers.CapsService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.Auth, logg))
		r.Get("/ping", controllers.OperatorPing())

		r.Route("/optimizer", func(r chi.Router) {
			r.Post("/advertisers/{accountId}/run", controllers.TriggerAdvertiserRun(optimizerService, logg))
			r.Post("/sweep", controllers.TriggerSweep(optimizerService, logg))
		})

		r.Get("/snapshots", controllers.ListSnapshots(snapshotsService, logg))
		r.Get("/advertisers", controllers.ListAdvertisers(advertisersService, logg))

		r.Route("/advertisers/{accountId}/caps", func(r chi.Router) {
			r.Put("/{adId}", controllers.UpsertBudgetCap(capsService, logg))
			r.Delete("/{adId}", controllers.DeleteBudgetCap(capsService, logg))
		})
	})

	return r
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starsorty/starsorty-api/internal/api"
	"github.com/starsorty/starsorty-api/internal/api/middleware"
	"github.com/starsorty/starsorty-api/internal/api/shared"
)

// setupRouter configures the HTTP routes and middleware stack.
func (app *application) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	// The cache interfaces are only assigned when Redis is actually wired;
	// a typed-nil *rediscache.Cache would defeat the handlers' nil checks.
	var (
		classifyCache api.Invalidator
		listCache     api.ListerCache
	)
	if app.cache != nil {
		classifyCache = app.cache
		listCache = app.cache
	}

	classifyHandler := api.NewClassifyHandler(
		app.batches, app.orchestrator, app.tasks, classifyCache)
	taskHandler := api.NewTaskHandler(app.tasks, app.orchestrator)
	repoHandler := api.NewRepoHandler(app.repoStore, listCache)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/classify", classifyHandler.Classify)
		r.Post("/classify/background", classifyHandler.ClassifyBackground)
		r.Get("/classify/status", classifyHandler.Status)
		r.Post("/classify/stop", classifyHandler.Stop)

		r.Get("/tasks/{taskID}", taskHandler.GetTask)
		r.Post("/tasks/{taskID}/retry", taskHandler.RetryTask)

		r.Get("/repos/failed", repoHandler.ListFailed)
		r.Post("/repos/failed/reset", repoHandler.ResetFailed)
	})

	return r
}

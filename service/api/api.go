package api

import (
	"net/http"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/pkg/tasks"
	"github.com/cmoscardi/textbook-tts/service/api/callbacks"
	"github.com/cmoscardi/textbook-tts/service/api/files"
	"github.com/cmoscardi/textbook-tts/service/api/middleware/auth"
	"github.com/cmoscardi/textbook-tts/service/api/status"
	"github.com/cmoscardi/textbook-tts/service/api/user/usage"
	"github.com/cmoscardi/textbook-tts/service/api/user/webhook"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
)

func Run() {
	// queue close
	defer tasks.AsynqClient.Close()

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	// Basic CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "access_token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/files", func(r chi.Router) {
		r.Use(auth.GetAccessToken())

		r.Post("/{id}/parse", files.Parse)
		r.Post("/{id}/convert", files.Convert)
		r.Get("/{id}/pages", files.Pages)
		r.Get("/{id}/sentences/{index}/audio", files.SentenceAudio)
		r.Get("/{id}/position", files.GetPosition)
		r.Put("/{id}/position", files.PutPosition)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Use(auth.GetAccessToken())
		r.Get("/{id}", status.Job)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(auth.GetAccessToken())
		r.Get("/usage", usage.GetCurrentUsage)
	})

	// billing provider deliveries, shared-secret gated
	r.Route("/billing", func(r chi.Router) {
		r.Use(auth.WebhookSecret())
		r.Post("/webhook", webhook.Receive)
	})

	// compute pool result delivery, token gated
	r.Route("/internal/ml", func(r chi.Router) {
		r.Use(auth.WorkerToken())

		r.Post("/page", callbacks.Page)
		r.Post("/progress", callbacks.Progress)
		r.Post("/completed", callbacks.Completed)
		r.Post("/failed", callbacks.Failed)
	})

	http.ListenAndServe(config.Cfg.Api.Addr, r)
}

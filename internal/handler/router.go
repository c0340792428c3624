package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/devprosvn/REC-ONE-Lisk-sub001/internal/middleware"
)

// SetupRouter wires the HTTP routes and middleware of the marketplace API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/energy/generation", h.RecordGeneration)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Post("/", h.CreateOffer)
			r.Post("/validate", h.ValidateOffer)
			r.Get("/{offerID}", h.GetOffer)
			r.Post("/{offerID}/cancel", h.CancelOffer)
		})

		r.Post("/users", h.RegisterUser)

		r.Route("/users/{wallet}", func(r chi.Router) {
			r.Get("/stats", h.GetUserStats)
			r.Get("/offers", h.GetUserOffers)
		})

		r.Get("/stats", h.GetMarketStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

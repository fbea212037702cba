package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/donation-receipt-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса квитанций.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/payments", h.CreatePayment)
		r.Post("/webhooks/paypal", h.PayPalWebhook)

		r.Route("/donations/{id}", func(r chi.Router) {
			r.Get("/", h.GetDonation)
			r.Post("/correspondence", h.SendCorrespondence)
		})

		r.Post("/imports", h.QueueImport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

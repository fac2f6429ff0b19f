package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/pointsgate/internal/middleware"
	"github.com/mmeshcher/pointsgate/internal/ratelimit"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса pointsgate.
// Все мутирующие маршруты сначала проходят лимитер своего класса операций.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.ClassAuth))

			r.Post("/user/register", h.Register)
			r.Post("/user/login", h.Login)
		})

		// вебхук аутентифицируется подписью, а не cookie
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.ClassWebhook))

			r.Post("/payments/webhook", h.Webhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/balance", h.GetBalance)
			r.Get("/user/downloads", h.GetDownloads)
			r.Get("/payments/status/{orderID}", h.PaymentStatus)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.ClassPayment))

				r.Post("/payments/initiate", h.InitiatePayment)
				r.Post("/payments/initiate-manual", h.InitiateManualPayment)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.ClassDownload))

				r.Post("/resources/download", h.DownloadResource)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.ClassAdmin))

				r.Post("/admin/payments/confirm", h.ConfirmPayment)
				r.Post("/admin/points/credit", h.AdminCredit)
				r.Post("/admin/points/debit", h.AdminDebit)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

package transport

import (
	"context"
	"net/http"
	"time"

	"moyasar-gateway/internal/auth"
	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/middleware"
	"moyasar-gateway/internal/payment"
	"moyasar-gateway/internal/plugin"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const WebhookMount = "/plugins/" + payment.GatewayName

// Pinger reports database reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Plugin        plugin.Plugin
	Payments      payment.Service
	Limiter       *middleware.RateLimiter
	DB            Pinger
	ServiceSecret string
}

func NewRouter(d Deps) http.Handler {
	h := &handlers{plugin: d.Plugin, payments: d.Payments}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(logger.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(chimw.Recoverer)
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware)
	}

	r.Get("/healthz", healthz(d.DB))
	r.Handle("/metrics", promhttp.Handler())

	// everything under the mount is routed by the plugin itself
	r.HandleFunc(WebhookMount+"/*", func(w http.ResponseWriter, r *http.Request) {
		d.Plugin.HandleWebhook(w, r, "/"+chi.URLParam(r, "*"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(d.ServiceSecret, auth.ScopePayments))

		r.Route("/payments/{paymentID}", func(r chi.Router) {
			r.Post("/authorize", h.paymentAction(h.payments.Authorize))
			r.Post("/capture", h.paymentAction(h.payments.Capture))
			r.Post("/refund", h.paymentAction(h.payments.Refund))
			r.Post("/confirm", h.paymentAction(h.payments.Confirm))
		})

		r.Get("/gateway/config", h.gatewayConfig)
		r.Get("/gateway/currencies", h.supportedCurrencies)
	})

	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSONError(w, r, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "OK"})
	}
}

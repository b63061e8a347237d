package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/gateway"
)

// NewRouter assembles the full HTTP surface: the pairing endpoints, the
// health check and the websocket mount. gw may be nil when no realtime
// gateway is wired.
func NewRouter(devices *device.Service, gw *gateway.Gateway, log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	deviceHandler := NewDeviceHandler(devices, log)

	r.Get("/healthz", HealthHandler)
	r.Route("/api/v1/device", func(r chi.Router) {
		r.Post("/pre_create", deviceHandler.HandlePreCreate)
		r.Post("/check_serial", deviceHandler.HandleCheckSerial)
	})
	if gw != nil {
		r.Get("/ws", gw.ServeWS)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no such endpoint")
	})

	return r
}

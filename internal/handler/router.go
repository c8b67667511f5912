package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/chatclient/pkg/utils"
)

// Health 报告客户端连接状态
type Health interface {
	Connected() bool
}

// NewRouter wires the local ops and control routes.
func NewRouter(ctrl chat.Controller, health Health, gatherer prometheus.Gatherer, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":    "ok",
			"connected": health.Connected(),
		}
		utils.RespondJSON(w, http.StatusOK, status)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	chatHandler := chat.New(ctrl, logger)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	return r
}

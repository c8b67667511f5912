package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/config"
	"github.com/zhouzirui/z-tavern/chatclient/internal/handler"
	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/auth"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/history"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/presence"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/profile"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/realtime"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	tokens   *auth.TokenStore
	api      *api.Client
	history  *history.Client
	presence *presence.Client
	profile  *profile.Client
}

func newApp(cfg *config.Config, logger *logrus.Logger) *app {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens := auth.NewTokenStore(cfg.API.AccessToken)
	apiClient := api.NewClient(cfg.API.BaseURL, tokens, api.Options{
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		Logger:    logger,
	})

	return &app{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		metrics:  metrics.New(registry),
		tokens:   tokens,
		api:      apiClient,
		history:  history.NewClient(apiClient),
		presence: presence.NewClient(apiClient),
		profile:  profile.NewClient(apiClient),
	}
}

func (a *app) newPoller() *presence.Poller {
	return presence.NewPoller(a.presence, presence.PollerOptions{
		Interval: a.cfg.Chat.PresenceInterval,
		Logger:   a.log,
		Metrics:  a.metrics,
	})
}

func (a *app) newSession() *realtime.Session {
	return realtime.NewSession(a.tokens, realtime.Options{
		URL:              a.cfg.Realtime.URL,
		HandshakeTimeout: a.cfg.Realtime.HandshakeTimeout,
		ReadTimeout:      a.cfg.Realtime.ReadTimeout,
		WriteTimeout:     a.cfg.Realtime.WriteTimeout,
		PingInterval:     a.cfg.Realtime.PingInterval,
		Logger:           a.log,
		Metrics:          a.metrics,
	})
}

// resolveSelfID returns the configured user id, then the one in the access
// token, and finally asks the backend. Zero means unknown; the chat still
// works without optimistic entries.
func (a *app) resolveSelfID(ctx context.Context) int64 {
	if a.cfg.Chat.SelfID > 0 {
		return a.cfg.Chat.SelfID
	}
	if id, ok := auth.UserIDFromToken(a.tokens.AccessToken()); ok {
		a.log.WithField("user", id).Debug("user id taken from access token")
		return id
	}

	me, err := a.profile.Me(ctx)
	if err != nil {
		a.log.WithError(err).Warn("could not resolve current user, sending without optimistic echo")
		return 0
	}
	a.log.WithFields(logrus.Fields{
		"user": me.UserID,
		"name": me.DisplayName(),
	}).Info("signed in")
	return me.UserID
}

// serveOps runs the local ops/control server until ctx is done. An empty
// address disables it.
func (a *app) serveOps(ctx context.Context, ctrl *chat.Controller, session *realtime.Session) error {
	addr := a.cfg.Ops.Addr
	if addr == "" {
		return nil
	}

	router := handler.NewRouter(ctrl, session, a.registry, a.log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.log.WithField("addr", addr).Info("ops server listening")
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

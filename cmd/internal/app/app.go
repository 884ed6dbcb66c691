// Package app wires the Lightlink server runtime: config, logging, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"lightlink/cmd/internal/account"
	"lightlink/cmd/internal/calls"
	"lightlink/cmd/internal/conversation"
	"lightlink/cmd/internal/metrics"
	"lightlink/cmd/internal/moderation"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/realtime"
	"lightlink/cmd/internal/social"
	"lightlink/cmd/internal/store"
	"lightlink/cmd/security/password"
)

// App is the Lightlink server runtime: it owns the store, the managers and HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	backend *backend
	store   *store.Store
	metrics *metrics.Metrics

	dispatcher *notify.Dispatcher
	sweeper    *conversation.Sweeper

	ws  *realtime.WSGateway
	api *apiHandler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	hasher, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	st, err := store.Open(ctx, be.snap, log, store.WithSaveHook(m.SnapshotSaved))
	if err != nil {
		be.close()
		return nil, err
	}

	hub := realtime.NewHub(log)
	queue := notify.NewQueue(cfg.NotificationCap)
	coord := calls.New(st, calls.WithLogger(log), calls.WithHistoryCap(cfg.HistoryCap))

	if cfg.AdminSecret == "" {
		log.Warn("admin.disabled", "reason", "LIGHTLINK_ADMIN_SECRET not set")
	}

	relay := notify.NewWebhookRelay(cfg.WebhookURL, nil)
	dispatcher, err := newDispatcher(cfg, log, st, hub, relay, m)
	if err != nil {
		_ = st.Close(ctx)
		be.close()
		return nil, err
	}

	center := notify.NewCenter(st, queue, log)
	mod := moderation.New(st, cfg.AdminSecret,
		moderation.WithLogger(log),
		moderation.WithPresence(hub),
		moderation.WithQueue(queue),
	)

	svc := realtime.Services{
		Accounts:      account.New(st, hasher, account.WithLogger(log), account.WithCalls(coord)),
		Social:        social.New(st, queue, log),
		Conversations: conversation.New(st,
			conversation.WithLogger(log),
			conversation.WithHistoryCap(cfg.HistoryCap),
			conversation.WithQueue(queue),
			conversation.WithCalls(coord),
		),
		Calls:         coord,
		Moderation:    mod,
		Notifications: center,
		Dispatcher:    dispatcher,
		Metrics:       m,
	}

	wsCfg := realtime.GatewayConfigFromEnv()
	wsCfg.TrustProxy = cfg.TrustProxy

	return &App{
		cfg:        cfg,
		log:        log,
		backend:    be,
		store:      st,
		metrics:    m,
		dispatcher: dispatcher,
		sweeper: conversation.NewSweeper(st,
			conversation.WithInterval(cfg.RetentionInterval),
			conversation.WithMaxAge(cfg.RetentionMaxAge),
			conversation.WithSweepLogger(log),
			conversation.WithPruneHook(m.Pruned),
		),
		ws: realtime.NewWSGateway(log, hub, svc, wsCfg),
		api: &apiHandler{
			log:         log,
			trustProxy:  cfg.TrustProxy,
			vapidPublic: cfg.VAPIDPublicKey,
			moderation:  mod,
			center:      center,
			relay:       relay,
		},
	}, nil
}

// newDispatcher wires push, mail and webhook delivery. Unconfigured channels stay off.
func newDispatcher(cfg Config, log Logger, st *store.Store, hub *realtime.Hub, relay notify.Relay, m *metrics.Metrics) (*notify.Dispatcher, error) {
	opts := []notify.DispatcherOption{
		notify.WithLogger(log),
		notify.WithPresence(hub),
		notify.WithObserver(m),
		notify.WithRelay(relay),
	}

	vapid := notify.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}
	if vapid.Enabled() {
		push, err := notify.NewWebPush(vapid, nil)
		if err != nil {
			return nil, fmt.Errorf("vapid: %w", err)
		}
		opts = append(opts, notify.WithPushTransport(push))
	} else {
		log.Info("push.disabled")
	}

	smtp := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if smtp.Enabled() {
		mailer, err := notify.NewSMTPMailer(smtp)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		opts = append(opts, notify.WithMailer(mailer))
	} else {
		log.Info("mail.disabled", "fallback", "log")
	}

	return notify.NewDispatcher(st, opts...), nil
}

// Handler returns the full HTTP handler, middleware included.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run starts the HTTP server and the retention sweeper and blocks until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base)+"/ws",
		"backend", a.backend.name,
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweeper.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	if err := a.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close drains side effects, flushes the store and releases the backend.
func (a *App) Close(ctx context.Context) error {
	if err := a.dispatcher.Close(ctx); err != nil {
		a.log.Warn("dispatcher.close.fail", "err", err)
	}
	err := a.store.Close(ctx)
	if err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	a.backend.close()
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

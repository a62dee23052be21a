package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/dedupe"
	"zeroclaw/pkg/health"
)

const (
	defaultStatusHost     = "127.0.0.1"
	defaultStatusPort     = 18790
	dedupeMaxEntries      = 10000
	providerWarmupTimeout = 30 * time.Second
	providerCheckInterval = 5 * time.Minute
)

// Service runs the channel gateway: supervised listeners feeding the bus, the
// dispatch pool draining it, and a small HTTP status server.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	runtime    *RuntimeContext
	channels   *channel.Registry
	bus        *bus.MessageBus
	health     *health.Registry
	dispatcher *Dispatcher

	// serveStatus is false in tests that only exercise the message path.
	serveStatus bool
}

type readyResponse struct {
	Status  string   `json:"status"`
	Pending []string `json:"pending,omitempty"`
}

// NewService wires a gateway around rc. The bus must be the one rc publishes
// events on.
func NewService(cfg *config.Config, rc *RuntimeContext, channels *channel.Registry, mb *bus.MessageBus, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if channels == nil || channels.Len() == 0 {
		return nil, errors.New("at least one channel is required")
	}
	if log == nil {
		log = slog.Default()
	}

	seen := dedupe.New(cfg.DedupeTTL(), dedupeMaxEntries)
	dispatcher := NewRuntimeDispatcher(rc, mb, seen, MaxInFlight(channels.Len()), log)

	return &Service{
		cfg:         cfg,
		log:         log.With("component", "gateway"),
		runtime:     rc,
		channels:    channels,
		bus:         mb,
		health:      health.NewRegistry(),
		dispatcher:  dispatcher,
		serveStatus: true,
	}, nil
}

// Health exposes the component registry fed by listeners and provider checks.
func (s *Service) Health() *health.Registry {
	return s.health
}

// Run blocks until ctx is done or every listener has stopped and the bus has
// drained.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("Starting gateway",
		"channels", strings.Join(s.channels.Names(), ","),
		"max_in_flight", s.dispatcher.MaxInFlight())

	s.checkProvider(ctx)

	serverErrors := make(chan error, 1)
	if s.serveStatus {
		go s.runStatusServer(ctx, serverErrors)
	}

	go ObserveEvents(ctx, s.bus, s.log)
	go s.monitorProvider(ctx)

	if s.cfg.Path != "" {
		go func() {
			err := config.Watch(ctx, s.cfg.Path, s.log, func(next *config.Config) {
				s.runtime.SetDefaults(next.RuntimeDefaults())
			})
			if err != nil {
				s.log.Warn("Config watcher stopped", "path", s.cfg.Path, "error", err)
			}
		}()
	}

	initial, maxDelay := s.cfg.ListenerBackoff()
	var listeners sync.WaitGroup
	for _, ch := range s.channels.All() {
		release := s.bus.Attach()
		supervisor := &channel.Supervisor{Initial: initial, Max: maxDelay, Health: s.health, Log: s.log}
		listeners.Add(1)
		go func() {
			defer listeners.Done()
			defer release()
			supervisor.Run(ctx, ch, s.bus)
		}()
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.dispatcher.Run(ctx)
	}()

	var runErr error
	select {
	case <-dispatchDone:
	case err := <-serverErrors:
		runErr = err
		cancel()
		<-dispatchDone
	}

	cancel()
	listeners.Wait()
	s.log.Info("Gateway stopped")
	return runErr
}

// checkProvider warms the default provider and records the outcome. Failure
// is logged and never fatal.
func (s *Service) checkProvider(ctx context.Context) {
	name := s.runtime.Defaults().Provider
	component := "provider:" + name

	p, err := s.runtime.providerFor(name)
	if err != nil {
		s.log.Warn("Default provider unavailable", "provider", name, "error", err)
		s.health.MarkError(component, err.Error())
		return
	}

	warmCtx, cancel := context.WithTimeout(ctx, providerWarmupTimeout)
	defer cancel()
	if err := p.Warmup(warmCtx); err != nil {
		s.log.Warn("Provider warmup failed", "provider", name, "error", err)
		s.health.MarkError(component, err.Error())
		return
	}
	s.health.MarkOK(component)
}

func (s *Service) monitorProvider(ctx context.Context) {
	ticker := time.NewTicker(providerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkProvider(ctx)
		}
	}
}

func (s *Service) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}
	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.statusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.health.Snapshot())
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, s.channels.Len())
	for _, ch := range s.channels.All() {
		names = append(names, channel.HealthName(ch))
	}

	pending := s.health.NotReady(names...)
	if len(pending) > 0 {
		s.respond(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Pending: pending})
		return
	}
	s.respond(w, http.StatusOK, readyResponse{Status: "ready"})
}

func (s *Service) respond(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

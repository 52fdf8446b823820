package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"
	"tickerguard/pkg/config"
	"tickerguard/pkg/metrics"
	"tickerguard/pkg/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const eventBuffer = 256

// Handler is the pipeline entry point the workers call for each message.
type Handler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) pipeline.Result
}

// Routes mounts additional endpoints on the gateway router.
type Routes interface {
	RegisterRoutes(r chi.Router)
}

type Option func(*Service)

// WithRoutes mounts extra endpoints, such as the webhook relay.
func WithRoutes(routes ...Routes) Option {
	return func(s *Service) {
		s.routes = append(s.routes, routes...)
	}
}

// WithoutHTTP runs channels and workers without the status server.
func WithoutHTTP() Option {
	return func(s *Service) {
		s.serveHTTP = false
	}
}

// Service runs channel adapters, feeds their messages through the bus to a
// pool of pipeline workers and serves health, metrics and webhook endpoints.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	handler   Handler
	bus       *bus.MessageBus
	channels  []channel.Adapter
	routes    []Routes
	workers   int
	serveHTTP bool

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	QueueDepth    int                     `json:"queue_depth"`
	Channels      map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, handler Handler, mb *bus.MessageBus, adapters []channel.Adapter, log *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if handler == nil {
		return nil, errors.New("pipeline handler is required")
	}
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	workers := cfg.Gateway.Workers
	if workers <= 0 {
		workers = config.DefaultGatewayWorkers
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		handler:       handler,
		bus:           mb,
		channels:      adapters,
		workers:       workers,
		serveHTTP:     true,
		channelStates: channelStates,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run blocks until ctx is cancelled, a channel fails or a channel stops on
// its own (the console quitting). Queued messages are dropped on shutdown.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	events, unsubscribe := s.bus.SubscribeEvents(ctx, eventBuffer)
	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		observeEvents(s.log.With("component", "gateway.events"), events)
	}()

	var workers sync.WaitGroup
	for id := range s.workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.runWorker(ctx, id)
		}()
	}

	errCh := make(chan error, len(s.channels)+1)
	if s.serveHTTP {
		go s.runHTTPServer(ctx, errCh)
	}

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
				return
			}
			if ctx.Err() == nil {
				s.log.Info("Channel stopped", "channel", adapter.Name())
			}
			errCh <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancel()
	workers.Wait()
	unsubscribe()
	<-observerDone

	if pending := s.bus.Pending(); pending > 0 {
		s.log.Warn("Dropped queued messages on shutdown", "count", pending)
	}
	return runErr
}

// handleInbound is the channel.Handler given to every adapter.
func (s *Service) handleInbound(ctx context.Context, msg bus.InboundMessage) error {
	if !s.bus.PublishInbound(ctx, msg) {
		return errors.New("inbound queue closed")
	}
	metrics.SetQueueDepth(s.bus.Pending())
	return nil
}

func (s *Service) runWorker(ctx context.Context, id int) {
	log := s.log.With("worker", id)
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		metrics.SetQueueDepth(s.bus.Pending())
		s.process(ctx, msg, log)
	}
}

// process keeps one bad message from taking a worker down.
func (s *Service) process(ctx context.Context, msg bus.InboundMessage, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked",
				"request_id", msg.RequestID,
				"channel", msg.Channel,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	result := s.handler.Handle(ctx, msg)
	log.Debug("Message handled", "request_id", msg.RequestID, "channel", msg.Channel, "outcome", result.Outcome)
}

// Router builds the HTTP surface: probes, metrics and any mounted routes.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	for _, routes := range s.routes {
		routes.RegisterRoutes(r)
	}

	return r
}

func (s *Service) runHTTPServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = config.DefaultGatewayHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = config.DefaultGatewayPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway HTTP server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start http server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		QueueDepth:    s.bus.Pending(),
		Channels:      channels,
	}
}

// isReady reports whether at least one channel is running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

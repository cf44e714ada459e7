package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/transflow/transflow/pkg/capture"
	"github.com/transflow/transflow/pkg/metrics"
	"github.com/transflow/transflow/pkg/priority"
	"github.com/transflow/transflow/pkg/session"
)

type Config struct {
	ServerAddr     string        `mapstructure:"server_addr"`
	WebsocketPath  string        `mapstructure:"ws_path"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	HighQueue      int           `mapstructure:"high_queue"`
	LowQueue       int           `mapstructure:"low_queue"`
	QueueFairness  int           `mapstructure:"queue_fairness"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8090"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HighQueue <= 0 {
		c.HighQueue = 256
	}
	if c.LowQueue <= 0 {
		c.LowQueue = 64
	}
	return c
}

// SourceFactory resolves the capture sources a start_recording request
// asks for. A nil result with nil error means audio arrives through
// audio_data events instead.
type SourceFactory func(ctx context.Context, req StartRequest) ([]capture.Source, error)

// Transport serves the websocket event contract. One session per
// connection; results fan out through a per-client two-lane queue so a
// slow reader drops level data before it drops transcripts.
type Transport struct {
	cfg        Config
	sessions   *session.Manager
	enumerator capture.Enumerator
	sources    SourceFactory
	observer   metrics.Observer
	logger     *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	draining atomic.Bool
}

func New(cfg Config, sessions *session.Manager, enumerator capture.Enumerator, sources SourceFactory, observer metrics.Observer, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if enumerator == nil {
		enumerator = capture.StaticEnumerator{}
	}
	if sources == nil {
		sources = func(context.Context, StartRequest) ([]capture.Source, error) { return nil, nil }
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		cfg:        cfg,
		sessions:   sessions,
		enumerator: enumerator,
		sources:    sources,
		observer:   observer,
		logger:     logger.With(slog.String("component", "ws_transport")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[string]*client),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) ReadyFields() map[string]any {
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return map[string]any{"websocket_url": "ws://" + addr + t.cfg.WebsocketPath}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	all := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
		all = append(all, c)
	}
	t.clients = make(map[string]*client)
	t.mu.Unlock()
	for _, c := range all {
		c.close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		id:           uuid.NewString(),
		conn:         conn,
		queue:        priority.New(t.cfg.HighQueue, t.cfg.LowQueue, t.cfg.QueueFairness),
		t:            t,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: t.cfg.WriteTimeout,
		registered:   make(map[string]bool),
	}
	c.logger = t.logger.With(slog.String("client_id", c.id))
	c.sess = t.sessions.Create(c)

	t.mu.Lock()
	t.clients[c.id] = c
	t.mu.Unlock()

	c.logger.Info("client_connected", slog.String("session_id", c.sess.ID()))
	c.pushHigh("connection_status", connectionStatusPayload{ClientID: c.id})

	go c.writeLoop()
	c.readLoop()

	t.detach(c)
}

func (t *Transport) detach(c *client) {
	t.mu.Lock()
	delete(t.clients, c.id)
	t.mu.Unlock()
	sessionID := c.sess.ID()
	c.close()
	t.sessions.Remove(sessionID)
	c.logger.Info("client_disconnected", slog.String("session_id", sessionID))
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// Package server accepts plotter websocket peers over an HTTP listener and
// answers line ending negotiation for each of them.
package server

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/auth"
	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
	"github.com/danmuck/serialplot/internal/transport"
)

var ErrAlreadyServing = errors.New("server: already serving")

type Options struct {
	Node string
	// Path is the websocket upgrade route.
	Path        string
	CORSOrigins []string
	Session     session.Config
	Logger      *zerolog.Logger
	// Registry receives the protocol collectors and backs /metrics.
	Registry        *prometheus.Registry
	FallbackEOL     protocol.EndOfLine
	ShutdownTimeout time.Duration
	// Auth guards the websocket route. Nil accepts every peer.
	Auth auth.Validator
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Node) == "" {
		o.Node = "plotterd"
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if !strings.HasPrefix(o.Path, "/") {
		o.Path = "/" + o.Path
	}
	o.Session = o.Session.WithDefaults()
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if !o.FallbackEOL.Valid() {
		o.FallbackEOL = protocol.NewLine
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 5 * time.Second
	}
	return o
}

type Server struct {
	opts     Options
	log      zerolog.Logger
	metrics  *observability.Metrics
	router   *gin.Engine
	board    *Board
	appeared time.Time

	acceptor atomic.Pointer[acceptor]

	mu    sync.Mutex
	peers map[string]*Peer
}

// acceptor hands upgraded peers to the running Serve loop.
type acceptor struct {
	peers chan *Peer
	done  chan struct{}
}

func New(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	switch opts.Path {
	case "/health", "/ready", "/metrics", "/peers", "/lines":
		return nil, errors.New("server: websocket path collides with " + opts.Path)
	}
	metrics, err := observability.NewMetrics(opts.Registry, opts.Node)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("node", opts.Node).Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware(metrics))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		log:      log,
		metrics:  metrics,
		router:   r,
		board:    NewBoard(),
		appeared: time.Now(),
		peers:    make(map[string]*Peer),
	}
	s.registerRoutes()
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// checkOrigin applies the CORS origin list to websocket upgrades. An empty
// list accepts any origin, as the plotter UI is usually served from a
// different port.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.CORSOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.CORSOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler exposes the HTTP surface.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// Board holds the latest values relayed from every peer.
func (s *Server) Board() *Board { return s.board }

// Serve accepts peers on ln and yields one *Peer per upgraded websocket.
// The sequence has no natural end: it stops when ctx is done, the listener
// fails, or the consumer breaks out. The listener is closed on return.
// Peers already yielded belong to the consumer.
func (s *Server) Serve(ctx context.Context, ln net.Listener) iter.Seq[*Peer] {
	return func(yield func(*Peer) bool) {
		a := &acceptor{peers: make(chan *Peer), done: make(chan struct{})}
		if !s.acceptor.CompareAndSwap(nil, a) {
			s.log.Error().Err(ErrAlreadyServing).Msg("serve")
			_ = ln.Close()
			return
		}
		defer s.acceptor.Store(nil)

		httpSrv := &http.Server{
			Handler:           s.router,
			ReadHeaderTimeout: s.opts.Session.HandshakeTimeout,
		}
		errc := make(chan error, 1)
		go func() { errc <- httpSrv.Serve(ln) }()
		s.log.Info().Str("addr", ln.Addr().String()).Str("path", s.opts.Path).Msg("serving")

		defer func() {
			close(a.done)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn().Err(err).Msg("http shutdown")
			}
			s.log.Info().Msg("stopped serving")
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					s.log.Error().Err(err).Msg("listener failed")
				}
				return
			case peer := <-a.peers:
				if !yield(peer) {
					return
				}
			}
		}
	}
}

func (s *Server) acceptPeer(c *gin.Context) {
	a := s.acceptor.Load()
	if a == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "not accepting peers"})
		return
	}
	conn, err := transport.Upgrade(c.Writer, c.Request, transport.Options{
		Session:     s.opts.Session,
		Logger:      &s.log,
		Recorder:    s.metrics,
		CheckOrigin: s.checkOrigin,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("upgrade failed, skipping peer")
		return
	}

	peer := newPeer(conn, s.opts.FallbackEOL, s.log, s.metrics, s.forget)
	s.mu.Lock()
	s.peers[peer.ID()] = peer
	s.mu.Unlock()

	select {
	case a.peers <- peer:
	case <-a.done:
		_ = peer.Close()
	}
}

func (s *Server) forget(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p.ID())
	s.mu.Unlock()
}

// PeerInfo describes one connected peer.
type PeerInfo struct {
	ID        string `json:"id"`
	Remote    string `json:"remote"`
	EOL       string `json:"eol"`
	Connected string `json:"connected"`
}

// Peers lists connected peers ordered by id.
func (s *Server) Peers() []PeerInfo {
	s.mu.Lock()
	list := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		list = append(list, PeerInfo{
			ID:        p.ID(),
			Remote:    p.RemoteAddr(),
			EOL:       p.EOL().String(),
			Connected: time.Since(p.since).Round(time.Millisecond).String(),
		})
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/mint-widget/internal/config"
	"moff.io/mint-widget/internal/mint"
	"moff.io/mint-widget/internal/notify"
	"moff.io/mint-widget/internal/provider/bridge"
	"moff.io/mint-widget/internal/wallet"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
	"moff.io/mint-widget/pkg/log/middleware"
)

const shutdownTimeout = 10 * time.Second

// Services are the components the routes drive.
type Services struct {
	Manager  *wallet.Manager
	Switcher *wallet.Switcher
	Mint     *mint.Service
	Hub      *bridge.Hub
	Bus      *notify.Bus
	Chooser  *notify.Chooser
	// Metrics is served on the metrics path when set.
	Metrics http.Handler
}

type Server struct {
	cfg         config.Server
	metricsPath string
	svc         Services
	engine      *gin.Engine
	upgrader    websocket.Upgrader
	srv         *http.Server
}

func NewServer(cfg config.Server, metricsPath string, svc Services) *Server {
	s := &Server{cfg: cfg, metricsPath: metricsPath, svc: svc}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())

	ws := router.Group("/ws")
	ws.GET("/bridge", s.serveBridge)
	ws.GET("/events", s.serveEvents)

	api := router.Group("/api", middleware.TimeoutHTTP(s.cfg.RequestTimeout))
	api.GET("/session", s.session)
	api.GET("/connect/choice", s.pendingChoice)
	api.POST("/connect/choice", s.choose)
	api.POST("/disconnect", s.disconnect)
	api.GET("/quote", s.quote)

	// these may wait on the chooser or a wallet prompt, which carry their own timeouts
	prompts := router.Group("/api")
	prompts.POST("/connect", s.connect)
	prompts.POST("/switch", s.switchChain)
	prompts.POST("/mint", s.mint)
	prompts.POST("/pro-insight", s.proInsight)
	prompts.POST("/submit-score", s.submitScore)

	router.GET("/hello", func(ctx *gin.Context) {
		ok(ctx, gin.H{"bridge": s.svc.Hub.Attached()})
	})
	if s.svc.Metrics != nil && s.metricsPath != "" {
		router.GET(s.metricsPath, gin.WrapH(s.svc.Metrics))
	}
	return router
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background until Stop.
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.engine,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		log.Infof("http server listening on %v", s.cfg.Address)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(errors.WrapAndReport(err, "http server"))
		}
	}()
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("http server shutdown:%v", err)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.Warnf("http - websocket from origin %q refused", origin)
	return false
}

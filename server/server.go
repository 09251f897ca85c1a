package server

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/config"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Server exposes the read API, player websocket, metrics over HTTP and the
// watcher health over gRPC.
type Server struct {
	cfg     config.ServerConfig
	ledger  ledger.Ledger
	hub     *notify.Hub
	monitor *monitor.Monitor
	health  *health.Server

	router     *gin.Engine
	httpServer *http.Server
	grpcServer *grpc.Server
	mutex      sync.Mutex
}

func NewServer(cfg config.ServerConfig, l ledger.Ledger, hub *notify.Hub, mon *monitor.Monitor) *Server {
	s := &Server{
		cfg:     cfg,
		ledger:  l,
		hub:     hub,
		monitor: mon,
		health:  health.NewServer(),
	}
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.monitor.Handler()))
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	auth := AuthMiddleware(s.cfg.JWTSecret)
	r.GET("/ws", auth, s.handleWebSocket)

	api := r.Group("/api")
	api.Use(auth)
	{
		api.GET("/games/:kind/:id", s.handleGetGame)
	}
	return r
}

// Router is the HTTP handler; tests drive it with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// WatcherStateChanged reports a streaming watcher to the gRPC health service
// under the watcher name. Pass it to Supervisor.OnStateChange.
func (s *Server) WatcherStateChanged(name string, state chain.ConnState) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == chain.Connected {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(name, status)
}

// Start 启动 gRPC 和 HTTP 服务，阻塞直到 HTTP 服务停止
func (s *Server) Start() error {
	if s.cfg.GRPCAddress != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddress)
		if err != nil {
			return err
		}
		s.mutex.Lock()
		s.grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
		gs := s.grpcServer
		s.mutex.Unlock()

		go func() {
			logger.Log.Infof("gRPC health listening on %s", s.cfg.GRPCAddress)
			if err := gs.Serve(lis); err != nil {
				logger.Log.Errorf("gRPC server stopped: %v", err)
			}
		}()
	}

	s.mutex.Lock()
	s.httpServer = &http.Server{Addr: s.cfg.HTTPAddress, Handler: s.router}
	hs := s.httpServer
	s.mutex.Unlock()

	logger.Log.Infof("HTTP listening on %s", s.cfg.HTTPAddress)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.hub.Shutdown()

	s.mutex.Lock()
	hs, gs := s.httpServer, s.grpcServer
	s.mutex.Unlock()

	if gs != nil {
		gs.GracefulStop()
	}
	if hs != nil {
		return hs.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": s.monitor.Uptime().String(),
		"events": s.monitor.EventCount(),
		"online": s.hub.Online(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, c.GetString(ContextUserID))
}

func (s *Server) handleGetGame(c *gin.Context) {
	kind, err := models.ParseGameKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gameID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	rec, err := s.ledger.Get(c.Request.Context(), kind, gameID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}
	if err != nil {
		logger.Log.Errorf("get %s: %v", models.Key(kind, gameID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return
	}

	if user := c.GetString(ContextUserID); user != "" && user != rec.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your game"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

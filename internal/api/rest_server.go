// Package api is the admin/ops HTTP surface (gin): realm listing, world
// create/rename/delete, a session-token mint endpoint, /healthz (gopsutil
// host stats) and /metrics (Prometheus), plus the game transport's WebSocket
// upgrade route. This is a separate control plane from the binary wire
// protocol the game client speaks over KCP/WebSocket data frames — it's for
// operators and tooling. Grounded on the teacher's internal/api/rest_server.go
// route layout and middleware wiring, generalized from a username/password
// account system (absent here, see internal/auth) to world/realm management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilerealm/server/internal/api/replay"
	"github.com/tilerealm/server/internal/auth"
	"github.com/tilerealm/server/internal/catalog"
	"github.com/tilerealm/server/internal/middleware"
	"github.com/tilerealm/server/internal/observability"
)

// PlayerCounter reports a loaded realm's live player count.
type PlayerCounter func(worldID string) (count int, loaded bool)

// RealmUnloader stops a running realm ahead of deleting its world record.
type RealmUnloader func(worldID string)

// Config wires the admin server to the rest of the process.
type Config struct {
	Port          string
	Registry      *catalog.Registry
	Health        *observability.ServerHealth
	Replay        *replay.Store
	PlayerCounter PlayerCounter
	Unloader      RealmUnloader
	WSHandler     http.HandlerFunc // the game transport's WebSocket upgrade route
	ServerID      string
	Environment   string
}

// Server is the admin HTTP surface.
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	cfg      Config
	webhooks *OutboundWebhookManager
}

// NewServer builds the admin HTTP surface and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = ":8088"
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "tilerealm-server"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewRequestLogger().Handler())
	promMw := middleware.NewPrometheusMiddleware("admin_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	s := &Server{
		router:   router,
		cfg:      cfg,
		webhooks: NewOutboundWebhookManager(cfg.ServerID, cfg.Environment),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.GET("/healthz", s.handleHealthz)

	if s.cfg.WSHandler != nil {
		s.router.Any("/ws", gin.WrapF(s.cfg.WSHandler))
	}

	apiGroup := s.router.Group("/api")
	apiGroup.POST("/session/token", s.handleMintToken)
	apiGroup.GET("/realms", s.handleListRealms)

	admin := apiGroup.Group("/admin")
	admin.Use(s.jwtMiddleware)
	{
		admin.POST("/worlds", s.handleCreateWorld)
		admin.PUT("/worlds/:id", s.handleRenameWorld)
		admin.DELETE("/worlds/:id", s.handleDeleteWorld)

		admin.GET("/webhooks", s.handleGetOutboundWebhooks)
		admin.POST("/webhooks", s.handleCreateOutboundWebhook)
		admin.GET("/webhooks/:id", s.handleGetOutboundWebhook)
		admin.PUT("/webhooks/:id", s.handleUpdateOutboundWebhook)
		admin.DELETE("/webhooks/:id", s.handleDeleteOutboundWebhook)
		admin.POST("/webhooks/:id/test", s.handleTestOutboundWebhook)
		admin.GET("/webhooks/events", s.handleGetWebhookEventTypes)

		admin.GET("/audit", s.handleQueryAudit)
	}
}

// ClientIDFromRequest extracts and validates the session token a WebSocket
// upgrade request carries as a query parameter, returning the client id it
// attests to. Used as the clientIDOf callback for network.WebSocketHandler.
func ClientIDFromRequest(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", fmt.Errorf("api: missing token query parameter")
	}
	clientID, ok := auth.ValidateToken(token)
	if !ok {
		return "", fmt.Errorf("api: invalid or expired token")
	}
	return clientID, nil
}

// jwtMiddleware requires a valid session token in the Authorization header
// for mutating admin calls. Any client id the token attests to is accepted:
// there is no separate admin role, consistent with internal/auth's stance
// that tokens authenticate connections, not identities.
func (s *Server) jwtMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	clientID, ok := auth.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set("client_id", clientID)
	c.Next()
}

type mintTokenRequest struct {
	ClientID string `json:"clientId" binding:"required"`
}

// handleMintToken issues a session token for a client-chosen id. This is the
// only unauthenticated endpoint besides /healthz, /metrics and /api/realms: the token
// it returns is what the client then presents over the game transport and
// to mutating admin calls.
func (s *Server) handleMintToken(c *gin.Context) {
	var req mintTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
		return
	}
	token, err := auth.IssueToken(req.ClientID, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "clientId": req.ClientID})
}

func (s *Server) handleListRealms(c *gin.Context) {
	worlds, err := s.cfg.Registry.ListWorlds()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(worlds))
	for _, w := range worlds {
		count := 0
		if s.cfg.PlayerCounter != nil {
			if n, loaded := s.cfg.PlayerCounter(w.ID); loaded {
				count = n
			}
		}
		out = append(out, gin.H{
			"id":           w.ID,
			"name":         w.Name,
			"worldType":    w.WorldType,
			"playerCount":  count,
			"createdAt":    w.CreatedAt,
			"lastPlayedAt": w.LastPlayedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"realms": out})
}

type createWorldRequest struct {
	Name      string `json:"name" binding:"required"`
	WorldType string `json:"worldType"`
	Seed      int64  `json:"seed"`
}

func (s *Server) handleCreateWorld(c *gin.Context) {
	var req createWorldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.WorldType == "" {
		req.WorldType = "natural"
	}
	rec, err := s.cfg.Registry.CreateWorld(c.Request.Context(), req.Name, req.WorldType, req.Seed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.webhooks.SendEvent(EventWorldCreated, map[string]interface{}{"worldId": rec.ID, "name": rec.Name})
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleRenameWorld(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Registry.RenameWorld(c.Request.Context(), id, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "name": req.Name})
}

func (s *Server) handleDeleteWorld(c *gin.Context) {
	id := c.Param("id")
	if s.cfg.Unloader != nil {
		s.cfg.Unloader(id)
	}
	if err := s.cfg.Registry.DeleteWorld(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.webhooks.SendEvent(EventWorldDeleted, map[string]interface{}{"worldId": id})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleGetOutboundWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"webhooks": s.webhooks.GetWebhooks()})
}

func (s *Server) handleCreateOutboundWebhook(c *gin.Context) {
	var req OutboundWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.webhooks.AddWebhook(req))
}

func (s *Server) handleGetOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}
	w := s.webhooks.GetWebhook(id)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleUpdateOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}
	var req OutboundWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w := s.webhooks.UpdateWebhook(id, req)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}
	if !s.webhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleTestOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}
	w := s.webhooks.GetWebhook(id)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	s.webhooks.SendEvent("webhook.test", map[string]interface{}{"webhookId": id, "webhookName": w.Name})
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) handleGetWebhookEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"eventTypes": s.webhooks.GetEventTypes()})
}

// handleQueryAudit serves the chunk-edit/player-count audit trail for
// operator debugging. ?type= may repeat, ?limit= defaults to 100.
func (s *Server) handleQueryAudit(c *gin.Context) {
	if s.cfg.Replay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log not enabled"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records := s.cfg.Replay.Query(replay.Filter{
		EventTypes: c.QueryArray("type"),
		Limit:      limit,
	})
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleHealthz(c *gin.Context) {
	cpuPct, _ := s.cfg.Health.CPUPercent()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    s.cfg.Health.Uptime().String(),
		"memoryMb":  fmt.Sprintf("%.2f", s.cfg.Health.MemoryMB()),
		"cpuPct":    fmt.Sprintf("%.2f", cpuPct),
		"serverId":  s.cfg.ServerID,
		"timestamp": time.Now().Unix(),
	})
}

// Start runs the admin HTTP server until Stop is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.cfg.Port, Handler: s.router}
	s.webhooks.SendEvent(EventServerStarted, map[string]interface{}{"port": s.cfg.Port})
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Println("api: admin server error:", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the admin HTTP server down.
func (s *Server) Stop() error {
	s.webhooks.SendEvent(EventServerStopped, map[string]interface{}{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

package hub

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Coderaryanyadav/SecureChat/internal/config"
	"github.com/Coderaryanyadav/SecureChat/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	manager *Manager
	cfg     *config.Config
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		manager: NewManager(cfg.RateLimit, cfg.RateInterval),
		cfg:     cfg,
	}
}

func (s *Server) Manager() *Manager { return s.manager }

// Router wires the REST collaborator endpoints and the websocket route.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/verify-room", s.handleVerifyRoom)
	api.POST("/save-room", s.handleSaveRoom)
	api.GET("/history", s.handleHistory)
	api.GET("/status", s.handleStatus)

	r.GET("/ws/:room/:name", s.handleSocket)
	return r
}

func (s *Server) handleVerifyRoom(c *gin.Context) {
	var req struct {
		RoomID   string `json:"room_id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" || req.Password == "" {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Room ID and password required."})
		return
	}
	if s.manager.VerifyRoom(req.RoomID, req.Password) {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid password for this room."})
}

func (s *Server) handleSaveRoom(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		RoomID string `json:"room_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false})
		return
	}
	s.manager.SaveRoom(req.UserID, req.RoomID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"rooms": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": s.manager.History(userID)})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "running", "active_rooms": s.manager.RoomCount()})
}

func (s *Server) handleSocket(c *gin.Context) {
	roomID := c.Param("room")
	name := c.Param("name")
	password := c.Query("pwd")

	if roomID == "" || len(roomID) > domain.MaxRoomIDLen ||
		name == "" || len(name) > domain.MaxDisplayNameLen {
		c.Status(http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	cl := newClient(ws, roomID, name)
	go cl.writePump(s.writeTimeout())

	if !s.manager.Join(cl, password) {
		return
	}

	defer s.manager.Leave(cl)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Str("module", "hub").Str("name", name).Msg("socket closed")
			return
		}
		s.manager.HandleFrame(cl, data)
	}
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 5 * time.Second
}

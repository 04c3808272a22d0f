package bridge

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pushgate/internal/correlation"
	"pushgate/internal/notification"
)

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/permission/ingress", s.handleIngress)
	v1.POST("/permission/decision", s.handleDecision)

	v1.GET("/notifications", s.handleList)
	v1.POST("/notifications", s.handleDisplay)
	v1.POST("/notifications/persistent", s.handleDisplayPersistent)
	v1.DELETE("/notifications/persistent/:id", s.handleClosePersistent)
	v1.DELETE("/notifications/:id", s.handleClose)
	v1.POST("/notifications/:id/click", s.handleClick)

	v1.PUT("/requesters/:id/tab", s.handleSetTab)
	v1.DELETE("/requesters/:id/tab", s.handleForgetTab)

	v1.GET("/events", s.handleEvents)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"presenter":        s.presenters.Get() != nil,
		"runtime_attached": s.sink != nil && s.sink.Available(),
	})
}

type ingressRequest struct {
	Key       string `json:"key"`
	Origin    string `json:"origin" binding:"required"`
	Requester int    `json:"requester"`
}

func (s *Server) handleIngress(c *gin.Context) {
	var req ingressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	key := correlation.Key(strings.TrimSpace(req.Key))
	if !key.Valid() {
		key = correlation.NewKey()
	}
	status := s.svc.CheckPermissionOnIngress(c.Request.Context(), key, req.Origin, req.Requester)
	c.JSON(http.StatusOK, gin.H{"status": status.String(), "key": string(key)})
}

type decisionRequest struct {
	Origin    string `json:"origin" binding:"required"`
	Requester int    `json:"requester"`
}

func (s *Server) handleDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	status := s.svc.CheckPermissionOnDecision(c.Request.Context(), req.Origin, req.Requester)
	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

type displayRequest struct {
	ID          string `json:"id"`
	Origin      string `json:"origin" binding:"required"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Tag         string `json:"tag"`
	IconURL     string `json:"icon_url"`
	Silent      bool   `json:"silent"`
	IconPNG     string `json:"icon_png"` // base64
	Requester   string `json:"requester"`
	UserGesture bool   `json:"user_gesture"`
}

func decodeIcon(b64 string) (image.Image, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(raw))
}

func (s *Server) handleDisplay(c *gin.Context) {
	var req displayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	icon, err := decodeIcon(req.IconPNG)
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_icon", "icon_png: "+err.Error())
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	s.svc.DisplayNotification(c.Request.Context(), notification.Request{
		ID:     id,
		Origin: req.Origin,
		Data: notification.Data{
			Title:   req.Title,
			Body:    req.Body,
			Tag:     req.Tag,
			IconURL: req.IconURL,
			Silent:  req.Silent,
		},
		Resources:   notification.Resources{Icon: icon},
		Requester:   correlation.Key(req.Requester),
		UserGesture: req.UserGesture,
	})
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

type persistentRequest struct {
	Origin string `json:"origin" binding:"required"`
	Scope  string `json:"scope"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (s *Server) handleDisplayPersistent(c *gin.Context) {
	var req persistentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.svc.DisplayPersistentNotification(c.Request.Context(), notification.PersistentRequest{
		Origin: req.Origin,
		Scope:  req.Scope,
		Data:   notification.Data{Title: req.Title, Body: req.Body},
	})
	c.Status(http.StatusAccepted)
}

func (s *Server) handleClosePersistent(c *gin.Context) {
	s.svc.ClosePersistentNotification(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (s *Server) handleClose(c *gin.Context) {
	s.svc.CloseNotification(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (s *Server) handleList(c *gin.Context) {
	ids, supportsSync := s.svc.GetDisplayedNotifications(c.Request.Context())
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids, "supports_sync": supportsSync})
}

type clicker interface {
	Click(id string) bool
}

func (s *Server) handleClick(c *gin.Context) {
	cl, ok := s.presenters.Get().(clicker)
	if !ok {
		abort(c, http.StatusConflict, "unsupported", "current presenter does not accept clicks")
		return
	}
	if !cl.Click(c.Param("id")) {
		abort(c, http.StatusNotFound, "not_found", "no live notification "+c.Param("id"))
		return
	}
	c.Status(http.StatusAccepted)
}

func requesterParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_request", "requester id must be an integer")
		return 0, false
	}
	return id, true
}

type tabRequest struct {
	Tab *int `json:"tab" binding:"required"`
}

func (s *Server) handleSetTab(c *gin.Context) {
	requester, ok := requesterParam(c)
	if !ok {
		return
	}
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.tabs.Set(requester, *req.Tab)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleForgetTab(c *gin.Context) {
	requester, ok := requesterParam(c)
	if !ok {
		return
	}
	s.tabs.Forget(requester)
	c.Status(http.StatusNoContent)
}

// handleEvents attaches the caller as the script runtime for the lifetime of
// the request.
func (s *Server) handleEvents(c *gin.Context) {
	if s.sink == nil {
		abort(c, http.StatusServiceUnavailable, "unavailable", "no event sink")
		return
	}
	events, detach := s.sink.Attach(s.buffer)
	defer detach()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(e.Name, e)
			c.Writer.Flush()
		}
	}
}

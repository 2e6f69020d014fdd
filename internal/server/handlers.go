package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service"
	"github.com/ifuryst/plume/internal/service/policy"
)

type schedulerActionRequest struct {
	Action string `json:"action" binding:"required,oneof=start stop restart process"`
}

type schedulePostRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type credentialsRequest struct {
	APIKey            string `json:"api_key"`
	APISecret         string `json:"api_secret"`
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

func (r credentialsRequest) credentials() models.Credentials {
	return models.Credentials{
		APIKey:            r.APIKey,
		APISecret:         r.APISecret,
		AccessToken:       r.AccessToken,
		AccessTokenSecret: r.AccessTokenSecret,
	}
}

type validateChannelRequest struct {
	Kind string `json:"kind"`
	credentialsRequest
}

type createChannelRequest struct {
	OwnerID       string               `json:"owner_id" binding:"required"`
	Kind          string               `json:"kind"`
	DisplayName   string               `json:"display_name"`
	Credentials   credentialsRequest   `json:"credentials"`
	Configuration models.ChannelConfig `json:"configuration"`
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Pipeline.Scheduler.Status())
}

func (s *Server) handleSchedulerAction(c *gin.Context) {
	var req schedulerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scheduler := s.Pipeline.Scheduler
	switch req.Action {
	case "start":
		changed := scheduler.Start(s.baseCtx)
		c.JSON(http.StatusOK, gin.H{"changed": changed, "status": scheduler.Status()})
	case "stop":
		changed := scheduler.Stop()
		c.JSON(http.StatusOK, gin.H{"changed": changed, "status": scheduler.Status()})
	case "restart":
		scheduler.Stop()
		scheduler.Wait()
		changed := scheduler.Start(s.baseCtx)
		c.JSON(http.StatusOK, gin.H{"changed": changed, "status": scheduler.Status()})
	case "process":
		summary := scheduler.ProcessNow(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"summary": summary, "status": scheduler.Status()})
	}
}

func (s *Server) handleCreatePost(c *gin.Context) {
	var in service.CreatePostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Pipeline.Authoring.Create(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, "Failed to create post", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (s *Server) handleGetPost(c *gin.Context) {
	id := c.Param("id")
	post, err := s.Pipeline.Authoring.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "Failed to get post", err)
		return
	}

	attempts, err := s.Pipeline.Attempts.History(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "Failed to get publish history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "attempts": attempts})
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Pipeline.Authoring.Schedule(c.Request.Context(), c.Param("id"), req.ScheduledAt)
	if err != nil {
		s.writeError(c, "Failed to schedule post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleArchivePost(c *gin.Context) {
	post, err := s.Pipeline.Authoring.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "Failed to archive post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.ChannelKindTwitter
	}
	if err := policy.Validate(req.Configuration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := &models.Channel{
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		DisplayName: req.DisplayName,
		IsActive:    true,
		Credentials: req.Credentials.credentials(),
		Config:      req.Configuration,
	}
	if err := s.Pipeline.Channels.Create(c.Request.Context(), channel); err != nil {
		s.writeError(c, "Failed to create channel", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": channel})
}

func (s *Server) handleValidateChannel(c *gin.Context) {
	var req validateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.ChannelKindTwitter
	}

	result := s.Pipeline.Gateway.ValidateCredentials(c.Request.Context(), req.Kind, req.credentials())
	c.JSON(http.StatusOK, result)
}

func (s *Server) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidPost):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

package web

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/dispatch"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the pipeline's HTTP surface: vendor webhooks in, enqueue and
// status queries for the (out-of-scope) tenant API.
type Server struct {
	engine      *gin.Engine
	server      *http.Server
	enqueuer    *dispatch.Enqueuer
	processor   *dispatch.InboundProcessor
	sup         *supervisor.Supervisor
	channelRepo repository.ChannelRepository
	logger      *elog.Component
}

func NewServer(
	addr string,
	enqueuer *dispatch.Enqueuer,
	processor *dispatch.InboundProcessor,
	sup *supervisor.Supervisor,
	channelRepo repository.ChannelRepository,
) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := &Server{
		engine:      engine,
		enqueuer:    enqueuer,
		processor:   processor,
		sup:         sup,
		channelRepo: channelRepo,
		logger:      elog.DefaultLogger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/webhooks/cloud/:channelID", s.verifyCloudWebhook)
	s.engine.POST("/webhooks/cloud/:channelID", s.handleCloudWebhook)
	s.engine.POST("/webhooks/baileys/:channelID", s.handleBaileysWebhook)

	api := s.engine.Group("/api/v1")
	api.POST("/messages", s.enqueueMessage)
	api.GET("/channels/:channelID/status", s.channelStatus)
	api.POST("/channels/:channelID/sync", s.triggerSync)
	api.DELETE("/jobs/:queue/:jobID", s.cancelJob)
}

func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type enqueueMessageReq struct {
	ChannelID   int64  `json:"channelId" binding:"required"`
	To          string `json:"to" binding:"required"`
	Body        string `json:"body"`
	ContentType string `json:"contentType"`
	MediaURL    string `json:"mediaUrl"`
	Caption     string `json:"caption"`
	DedupKey    string `json:"dedupKey"`
}

func (s *Server) enqueueMessage(c *gin.Context) {
	var req enqueueMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobID, err := s.enqueuer.EnqueueMessage(c.Request.Context(), domain.OutboundMessage{
		ChannelID:   req.ChannelID,
		To:          req.To,
		Body:        req.Body,
		ContentType: domain.ContentType(req.ContentType),
		MediaURL:    req.MediaURL,
		Caption:     req.Caption,
		DedupKey:    req.DedupKey,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (s *Server) channelStatus(c *gin.Context) {
	channelID, ok := s.channelID(c)
	if !ok {
		return
	}
	status, err := s.sup.Status(c.Request.Context(), channelID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":          status.State,
		"connected":      status.IsConnected(),
		"lastActivityAt": status.LastActivityAt,
		"qrCode":         status.QRCode,
		"detail":         status.Detail,
	})
}

func (s *Server) triggerSync(c *gin.Context) {
	channelID, ok := s.channelID(c)
	if !ok {
		return
	}
	jobID, err := s.enqueuer.EnqueueSync(c.Request.Context(), channelID, true)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (s *Server) cancelJob(c *gin.Context) {
	err := s.enqueuer.CancelJob(c.Request.Context(), c.Param("queue"), c.Param("jobID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// verifyCloudWebhook answers Meta's subscription handshake.
func (s *Server) verifyCloudWebhook(c *gin.Context) {
	channelID, ok := s.channelID(c)
	if !ok {
		return
	}
	ch, err := s.channelRepo.GetByID(c.Request.Context(), channelID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if c.Query("hub.mode") != "subscribe" || c.Query("hub.verify_token") != ch.Config.VerifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

func (s *Server) handleCloudWebhook(c *gin.Context) {
	channelID, ok := s.channelID(c)
	if !ok {
		return
	}
	ch, err := s.channelRepo.GetByID(c.Request.Context(), channelID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if !validCloudSignature(ch.Config.WebhookSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		c.Status(http.StatusUnauthorized)
		return
	}
	s.process(c, channelID, body)
}

func (s *Server) handleBaileysWebhook(c *gin.Context) {
	channelID, ok := s.channelID(c)
	if !ok {
		return
	}
	ch, err := s.channelRepo.GetByID(c.Request.Context(), channelID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if ch.Config.WebhookSecret != "" && c.GetHeader("X-Gateway-Token") != ch.Config.WebhookSecret {
		c.Status(http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	s.process(c, channelID, body)
}

func (s *Server) process(c *gin.Context, channelID int64, body []byte) {
	traceID, _ := uuid.NewV4()
	if err := s.processor.Process(c.Request.Context(), channelID, body); err != nil {
		s.logger.Error("webhook processing failed",
			elog.Int64("channelID", channelID),
			elog.String("traceID", traceID.String()),
			elog.FieldErr(err))
		// vendors retry on 5xx; malformed bodies must not be re-delivered forever
		if errors.Is(err, errs.ErrMalformedPayload) {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) channelID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("channelID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrChannelNotFound), errors.Is(err, errs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInvalidParameter), errors.Is(err, errs.ErrChannelDisabled),
		errors.Is(err, errs.ErrUnsupportedChannelType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func validCloudSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		// channel without a secret configured accepts unsigned payloads
		return true
	}
	const prefix = "sha256="
	if len(header) <= len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

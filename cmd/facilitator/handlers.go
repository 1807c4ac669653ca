package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/extensions/bazaar"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// paymentRequest is the body of POST /verify and POST /settle. Payload and
// requirements stay raw: the facilitator owns their decoding, so malformed
// input maps to enumerated invalid reasons instead of transport errors.
type paymentRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

type server struct {
	facilitator x402.FacilitatorClient
	catalog     bazaar.Catalog
	logger      *slog.Logger
}

func newServer(facilitator x402.FacilitatorClient, catalog bazaar.Catalog, logger *slog.Logger) *server {
	return &server{facilitator: facilitator, catalog: catalog, logger: logger}
}

func (s *server) router(promRegistry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)

	r.GET("/discovery/resources", s.handleListResources)
	r.POST("/discovery/resources", s.handleRegisterResource)
	r.DELETE("/discovery/resources", s.handleUnregisterResource)

	return r
}

func (s *server) handleVerify(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("verify failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleSettle(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("settle failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleSupported(c *gin.Context) {
	resp, err := s.facilitator.GetSupported(c.Request.Context())
	if err != nil {
		s.logger.Error("supported failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list supported kinds"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleListResources(c *gin.Context) {
	opts := types.ListResourcesOptions{Type: c.Query("type")}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		opts.Offset = offset
	}

	resp, err := s.catalog.List(c.Request.Context(), opts)
	if err != nil {
		s.logger.Error("list resources failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list resources"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleRegisterResource(c *gin.Context) {
	var req types.DiscoveryRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	entry, err := s.catalog.Register(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, bazaar.ErrInvalidRegistration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("register resource failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register resource"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *server) handleUnregisterResource(c *gin.Context) {
	var req types.DiscoveryUnregisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Resource == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource is required"})
		return
	}

	if err := s.catalog.Unregister(c.Request.Context(), req.Resource); err != nil {
		if errors.Is(err, bazaar.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
			return
		}
		s.logger.Error("unregister resource failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister resource"})
		return
	}
	c.Status(http.StatusNoContent)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

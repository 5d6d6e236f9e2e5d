// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes position ingestion and conversion status over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/ingest"
	"github.com/jcodagnone/geoconv/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PositionReader is the read side of the repository used by the API.
type PositionReader interface {
	GetPosition(ctx context.Context, id int64) (*geoconv.RawPosition, error)
	GetConverted(ctx context.Context, positionID int64) ([]geoconv.ConvertedPosition, error)
	CountUnconverted(ctx context.Context, platform geoconv.Platform) (int, error)
}

// Ingester stores new positions.
type Ingester interface {
	Ingest(ctx context.Context, pos *geoconv.RawPosition) error
}

// StatusReporter describes the configured providers.
type StatusReporter interface {
	Status() []geoconv.ProviderStatus
}

type Server struct {
	store    PositionReader
	ingester Ingester
	status   StatusReporter
	log      logrus.FieldLogger
}

func NewServer(store PositionReader, ingester Ingester, status StatusReporter, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Server{store: store, ingester: ingester, status: status, log: logger}
}

// Router returns the handler with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/providers", s.listProviders)
	r.POST("/api/positions", s.addPosition)
	r.GET("/api/positions/:id", s.getPosition)
	r.GET("/api/positions/:id/converted", s.getConverted)

	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		s.log.WithFields(logrus.Fields{
			"method":  ctx.Request.Method,
			"path":    ctx.FullPath(),
			"status":  ctx.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("HTTP request")
	}
}

func (s *Server) healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ProviderResponse is a provider status plus its backlog.
type ProviderResponse struct {
	geoconv.ProviderStatus
	Pending int `json:"pending"`
}

func (s *Server) listProviders(ctx *gin.Context) {
	statuses := s.status.Status()
	out := make([]ProviderResponse, 0, len(statuses))

	for _, st := range statuses {
		pending, err := s.store.CountUnconverted(ctx.Request.Context(), st.Platform)
		if err != nil {
			s.log.WithError(err).WithField("platform", st.Platform).Error("Failed to count unconverted positions")
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unconverted positions"})

			return
		}

		out = append(out, ProviderResponse{ProviderStatus: st, Pending: pending})
	}

	ctx.JSON(http.StatusOK, out)
}

// AddPositionRequest is the body of POST /api/positions.
type AddPositionRequest struct {
	DeviceID  int64     `json:"device_id"`
	FixTime   time.Time `json:"fix_time"`
	Latitude  *float64  `json:"latitude" binding:"required"`
	Longitude *float64  `json:"longitude" binding:"required"`
}

func (s *Server) addPosition(ctx *gin.Context) {
	var req AddPositionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	pos := geoconv.RawPosition{
		DeviceID:  req.DeviceID,
		FixTime:   req.FixTime,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	}

	if err := s.ingester.Ingest(ctx.Request.Context(), &pos); err != nil {
		if errors.Is(err, ingest.ErrInvalidPosition) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}

		s.log.WithError(err).Error("Failed to ingest position")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store position"})

		return
	}

	ctx.JSON(http.StatusCreated, pos)
}

func (s *Server) lookupPosition(ctx *gin.Context) (*geoconv.RawPosition, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})

		return nil, false
	}

	pos, err := s.store.GetPosition(ctx.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return nil, false
	}

	if err != nil {
		s.log.WithError(err).WithField("position_id", id).Error("Failed to load position")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load position"})

		return nil, false
	}

	return pos, true
}

func (s *Server) getPosition(ctx *gin.Context) {
	pos, ok := s.lookupPosition(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, pos)
}

func (s *Server) getConverted(ctx *gin.Context) {
	pos, ok := s.lookupPosition(ctx)
	if !ok {
		return
	}

	converted, err := s.store.GetConverted(ctx.Request.Context(), pos.ID)
	if err != nil {
		s.log.WithError(err).WithField("position_id", pos.ID).Error("Failed to load conversions")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversions"})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"position":  pos,
		"converted": converted,
	})
}

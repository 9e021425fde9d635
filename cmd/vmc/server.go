// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianVMC/services/vmc"
	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

type statusSource interface {
	Status() vmc.Status
}

type historySource interface {
	Records() []optimize.StepRecord
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse is the body of GET /v1/vmc/history.
type HistoryResponse struct {
	Records []optimize.StepRecord `json:"records"`
	Total   int                   `json:"total"`
}

// newRouter builds the read-only status API.
//
//	GET /metrics            Prometheus exposition
//	GET /v1/vmc/health      liveness
//	GET /v1/vmc/status      vmc.Status
//	GET /v1/vmc/history     step records, oldest first; ?limit=N keeps the newest N
func newRouter(status statusSource, history historySource, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("vmc-status"))

	router.GET("/metrics", gin.WrapH(metrics))
	v1 := router.Group("/v1/vmc")
	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Status())
	})
	v1.GET("/history", handleHistory(history))
	return router
}

func handleHistory(history historySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		records := history.Records()
		total := len(records)
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
				return
			}
			if limit < total {
				records = records[total-limit:]
			}
		}
		c.JSON(http.StatusOK, HistoryResponse{Records: records, Total: total})
	}
}

// startStatusServer serves router on addr in the background.
func startStatusServer(addr string, router http.Handler, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	return srv
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cyclebot/internal/monitor"
	"cyclebot/internal/trade"
	"cyclebot/pkg/db"
)

type listCyclesQuery struct {
	Limit int `form:"limit"`
}

func (q *listCyclesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

type listTradesQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	st, err := s.Engine.Status(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) startRun(c *gin.Context) {
	runID, err := s.Engine.StartRun(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusConflict, "RUN_ALREADY_ACTIVE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}

func (s *Server) stopRun(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; an empty reason gets a default downstream.
	_ = c.ShouldBindJSON(&req)

	stopping := s.Engine.StopRun(req.Reason)
	c.JSON(http.StatusOK, gin.H{"stopping": stopping})
}

func (s *Server) listCycles(c *gin.Context) {
	var q listCyclesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	cycles, err := s.Engine.Cycles(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, cycles)
}

func (s *Server) getCycle(c *gin.Context) {
	detail, err := s.Engine.CycleByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "cycle not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) listTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	switch q.Status {
	case "", trade.StatusPendingFill, trade.StatusFilled, trade.StatusClosed, trade.StatusCancelled:
	default:
		respondError(c, http.StatusBadRequest, "INVALID_STATUS", "unknown trade status "+q.Status)
		return
	}

	trades, err := s.Engine.Trades(c.Request.Context(), q.Status, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getTrade(c *gin.Context) {
	t, err := s.Engine.TradeByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "trade not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) exitTrade(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	err := s.Engine.RequestExit(c.Request.Context(), id, req.Reason)
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "trade not found")
	case errors.Is(err, monitor.ErrNotOpen):
		respondError(c, http.StatusConflict, "TRADE_NOT_OPEN", err.Error())
	case err != nil:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		c.JSON(http.StatusAccepted, gin.H{"trade_id": id, "exit_requested": true})
	}
}

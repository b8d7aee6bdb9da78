package server

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/franckalain/snapnourish/internal/database"
	"github.com/franckalain/snapnourish/internal/models"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type historyRequest struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit"`
}

type totals struct {
	Analyses        int     `json:"analyses"`
	Calories        float64 `json:"calories"`
	CarbonFootprint float64 `json:"carbon_footprint"`
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	switch msg.Type {
	case "analyze":
		s.handleAnalyzeMessage(ctx, conn, msg.Data)
	case "get_history":
		s.handleGetHistory(ctx, conn, msg.Data)
	case "":
		s.sendError(conn, "Invalid message format")
	default:
		s.sendError(conn, "Unknown message type")
	}
}

func (s *Server) handleAnalyzeMessage(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req models.AnalysisRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		s.sendError(conn, "Invalid analysis request")
		return
	}

	resp, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		if models.KindOf(err) == models.KindValidation {
			s.sendError(conn, err.Error())
			return
		}
		s.sendError(conn, "Failed to analyze image: "+err.Error())
		return
	}
	s.sendMessage(conn, "analysis_result", resp)
}

func (s *Server) handleGetHistory(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req historyRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil || req.UserID == "" {
		s.sendError(conn, "Invalid history request")
		return
	}
	if req.Limit <= 0 {
		req.Limit = database.DefaultListLimit
	}

	items, err := s.records.ListAnalyses(ctx, req.UserID, req.Limit)
	if err != nil {
		log.WithField("user_id", req.UserID).WithError(err).Error("failed to retrieve history")
		s.sendError(conn, "Failed to retrieve history")
		return
	}

	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))

	var dayTotal, weekTotal totals
	for _, item := range items {
		if item.Timestamp.Before(startOfWeek) {
			continue
		}
		weekTotal.add(item)
		if !item.Timestamp.Before(startOfDay) {
			dayTotal.add(item)
		}
	}

	s.sendMessage(conn, "history", map[string]any{
		"items":      items,
		"day_total":  dayTotal,
		"week_total": weekTotal,
	})
}

func (t *totals) add(rec *models.PersistedRecord) {
	t.Analyses++
	for _, ing := range rec.Ingredients {
		t.Calories += leadingNumber(ing.Calories)
		t.CarbonFootprint += leadingNumber(ing.CarbonFootprint)
	}
}

// leadingNumber returns the number at the start of a "<number> <unit>"
// value, or 0.
func leadingNumber(v string) float64 {
	v = strings.TrimSpace(v)
	end := strings.IndexFunc(v, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		v = v[:end]
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) sendMessage(conn *websocket.Conn, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}

	if err := conn.WriteJSON(msg); err != nil {
		log.WithError(err).Warn("error sending message")
		return
	}
	log.WithField("type", messageType).Debug("message sent")
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}

	if err := conn.WriteJSON(msg); err != nil {
		log.WithError(err).Warn("error sending error message")
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alpar-labs/alpar/internal/agent"
	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/config"
	"github.com/alpar-labs/alpar/internal/turn"
)

// DTOs (request/response)

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
}

type conversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	ID      string `json:"id"`
}

type chatResponse struct {
	Response     string              `json:"response"`
	ThreadID     string              `json:"threadId"`
	Conversation []conversationEntry `json:"conversation"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthResponse struct {
	Status     string    `json:"status"`
	Agent      string    `json:"agent"`
	Configured bool      `json:"configured"`
	Mode       string    `json:"mode"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type chartDataResponse struct {
	Success bool         `json:"success"`
	Type    string       `json:"type"`
	Period  string       `json:"period"`
	Metric  string       `json:"metric"`
	Data    *charts.Data `json:"data"`
}

// Error messages returned to clients.
const (
	msgMessageRequired = "Message is required"
	msgRunFailed       = "Agent run failed"
	msgRunTimedOut     = "Agent run timed out"
	msgChartData       = "Error generating chart data"
	msgBodyTooLarge    = "Request body too large"
)

// maxChatBody caps a chat request body or websocket frame.
const maxChatBody = 1 << 20

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgBodyTooLarge})
			return
		}
		writeError(w, http.StatusBadRequest, errorResponse{Error: msgMessageRequired, Details: "invalid JSON body"})
		return
	}

	res := s.turns.HandleTurn(r.Context(), req.Message, req.ThreadID)
	status, body := resultBody(res)
	writeJSON(w, status, body)
}

// resultBody maps a turn result to its HTTP status and body.
func resultBody(res turn.Result) (int, any) {
	switch res.Outcome {
	case turn.OutcomeSuccess, turn.OutcomeDegraded:
		return http.StatusOK, chatResponse{
			Response:     res.Response,
			ThreadID:     res.ThreadID,
			Conversation: toConversation(res.Conversation),
		}
	case turn.OutcomeInvalidRequest:
		return http.StatusBadRequest, errorResponse{Error: msgMessageRequired}
	case turn.OutcomeRunFailed:
		return http.StatusInternalServerError, errorResponse{Error: msgRunFailed, Details: res.Details}
	case turn.OutcomeRunTimedOut:
		return http.StatusGatewayTimeout, errorResponse{Error: msgRunTimedOut, Details: res.Details}
	default:
		return http.StatusInternalServerError, errorResponse{Error: res.Outcome.String()}
	}
}

func toConversation(msgs []agent.Message) []conversationEntry {
	out := make([]conversationEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, conversationEntry{Role: string(m.Role), Content: m.Content, ID: m.ID})
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "healthy",
		Agent:      "Not initialized",
		Configured: s.turns.Available(),
		Mode:       "demo",
		Message:    "Running in demo mode - agent not configured",
		Timestamp:  s.now().UTC(),
	}
	if resp.Configured {
		resp.Agent = s.turns.Agent().Name
		resp.Mode = "full"
		resp.Message = "Agent fully configured"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := charts.Request{
		Type:   r.PathValue("type"),
		Period: q.Get("period"),
		Metric: q.Get("metric"),
	}.WithDefaults()

	data, err := s.charts.Dataset(r.Context(), req)
	if err != nil {
		config.LoggerFromContext(r.Context(), s.logger).Error("chart data failed", "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, errorResponse{Error: msgChartData, Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, chartDataResponse{
		Success: true,
		Type:    req.Type,
		Period:  req.Period,
		Metric:  req.Metric,
		Data:    data,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

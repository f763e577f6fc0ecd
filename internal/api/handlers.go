package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/tasks"
)

// SweepResult is the body of a successful POST /sweep.
type SweepResult struct {
	Closed int `json:"closed"`
}

// QueueEntry describes one escalated conversation.
type QueueEntry struct {
	Position            int          `json:"position"`
	Identity            string       `json:"identity"`
	DisplayName         string       `json:"display_name,omitempty"`
	Active              bool         `json:"active"`
	State               models.State `json:"state,omitempty"`
	StartedAt           time.Time    `json:"started_at,omitempty"`
	LastClientMessageAt time.Time    `json:"last_client_message_at,omitempty"`
	Notified            bool         `json:"notified"`
}

// QueueView is the body of GET /queue.
type QueueView struct {
	Length  int          `json:"length"`
	Entries []QueueEntry `json:"entries"`
}

// Health is the body of GET /healthz.
type Health struct {
	Uptime        string           `json:"uptime"`
	Conversations int              `json:"conversations"`
	QueueLength   int              `json:"queue_length"`
	Tasks         []tasks.TaskInfo `json:"tasks,omitempty"`
}

// encodeFailure is written when a response envelope cannot be encoded.
const encodeFailure = `{"status":"error","message":"response encoding failed"}`

// respond writes body as the JSON envelope of every endpoint. The envelope
// is encoded before any header is written so a failure still yields a 500.
func respond(w http.ResponseWriter, status int, body models.APIResponse) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.respond: encoding failed", "status", status, "error", err)
		status = http.StatusInternalServerError
		data = []byte(encodeFailure)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Server.respond: client went away", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, models.Error(message))
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	closed, err := s.engine.Sweep(r.Context())
	if err != nil {
		slog.Error("Server.sweepHandler: sweep failed", "error", err, "closed", closed)
		respondError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	slog.Info("Server.sweepHandler: sweep finished", "closed", closed)
	respond(w, http.StatusOK, models.SuccessWithMessage("sweep finished", SweepResult{Closed: closed}))
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.Queue().Snapshot()
	active, hasActive := s.engine.Queue().Active()
	view := QueueView{Length: len(ids), Entries: make([]QueueEntry, 0, len(ids))}
	for i, id := range ids {
		entry := QueueEntry{
			Position: i + 1,
			Identity: id,
			Active:   hasActive && id == active,
		}
		if conv, ok := s.engine.Conversations().Snapshot(id); ok {
			entry.DisplayName = conv.DisplayName
			entry.State = conv.State()
			entry.StartedAt = conv.Handoff.StartedAt
			entry.LastClientMessageAt = conv.Handoff.LastClientMessageAt
			entry.Notified = conv.Handoff.Notified
		}
		view.Entries = append(view.Entries, entry)
	}
	respond(w, http.StatusOK, models.Success(view))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		Conversations: s.engine.Conversations().Len(),
		QueueLength:   s.engine.Queue().Len(),
	}
	if s.tasks != nil {
		h.Tasks = s.tasks.Active()
	}
	respond(w, http.StatusOK, models.Success(h))
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tacedge/tacgate/pkg/api"
	"github.com/tacedge/tacgate/pkg/audit"
	"github.com/tacedge/tacgate/pkg/auth"
	"github.com/tacedge/tacgate/pkg/crypto"
	"github.com/tacedge/tacgate/pkg/gateway"
	"github.com/tacedge/tacgate/pkg/queue"
	"github.com/tacedge/tacgate/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"queue_backend": s.manager.Backend(),
	})
}

// POST /api/v1/messages
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req gateway.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid request body")
		return
	}

	rec, err := s.pipeline.Send(r.Context(), principal, req)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, map[string]any{
		"message_id":         rec.MessageID,
		"status":             rec.Status,
		"precedence":         rec.Precedence,
		"created_at":         rec.CreatedAt,
		"estimated_delivery": rec.EstimatedDelivery,
	})
}

// GET /api/v1/messages/{id}
func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.GetStatus(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rec)
}

// GET /api/v1/messages/{id}/content
func (s *Server) handleMessageContent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.GetContent(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"message_id":     rec.MessageID,
		"content":        rec.Content,
		"precedence":     rec.Precedence,
		"classification": rec.Classification,
		"sender":         rec.Sender,
		"recipient":      rec.Recipient,
		"encrypted":      rec.Encrypted,
	})
}

// POST /api/v1/messages/{id}/ack
func (s *Server) handleMessageAck(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	rec, err := s.pipeline.Ack(r.PathValue("id"), principal)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"message_id":      rec.MessageID,
		"acknowledged":    rec.Acknowledged,
		"acknowledged_at": rec.AcknowledgedAt,
		"acknowledged_by": rec.AcknowledgedBy,
	})
}

// GET /api/v1/nodes
func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.registry.Nodes()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// POST /api/v1/queue/enqueue
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID        string           `json:"message_id"`
		Recipient        string           `json:"recipient"`
		EncryptedContent string           `json:"encrypted_content"`
		Precedence       types.Precedence `json:"precedence"`
		TTL              int              `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid request body")
		return
	}
	switch {
	case req.MessageID == "":
		api.WriteValidation(w, "message_id must not be empty")
		return
	case req.Recipient == "":
		api.WriteValidation(w, "recipient must not be empty")
		return
	case !req.Precedence.Valid():
		api.WriteValidation(w, "unknown precedence "+strconv.Quote(string(req.Precedence)))
		return
	case req.TTL != 0 && (req.TTL < 60 || req.TTL > 86400):
		api.WriteValidation(w, "ttl must be 60..86400 seconds")
		return
	}

	ttl := time.Duration(req.TTL) * time.Second
	if ttl <= 0 {
		ttl = s.cfg.QueueTTL
	}
	now := time.Now().UTC()
	entry := &queue.Entry{
		MessageID:        req.MessageID,
		Recipient:        req.Recipient,
		EncryptedContent: req.EncryptedContent,
		Precedence:       req.Precedence,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}

	position, err := s.manager.Enqueue(r.Context(), entry)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyQueued) {
			api.WriteErrorCode(w, types.CodeAlreadyQueued, "message "+req.MessageID+" is already queued")
			return
		}
		api.WriteError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, map[string]any{
		"queue_position": position,
		"expires_at":     entry.ExpiresAt,
	})
}

// GET /api/v1/queue/status
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Status(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, st)
}

// POST /api/v1/queue/flush
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	flushed, failed := s.worker.Flush(r.Context())
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"flushed": flushed,
		"failed":  failed,
		"status":  "completed",
	})
}

// POST /api/v1/audit/events
func (s *Server) handleAuditAppend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType     string              `json:"event_type"`
		ControlFamily audit.ControlFamily `json:"control_family"`
		Actor         audit.Actor         `json:"actor"`
		Action        audit.Action        `json:"action"`
		Context       map[string]any      `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid request body")
		return
	}

	event, err := s.log.Append(req.EventType, req.ControlFamily, req.Actor, req.Action, req.Context)
	if err != nil {
		if errors.Is(err, audit.ErrEmptyEventType) || errors.Is(err, audit.ErrInvalidControlFamily) {
			api.WriteValidation(w, err.Error())
			return
		}
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, event)
}

// GET /api/v1/audit/events
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		EventType:     r.URL.Query().Get("event_type"),
		ControlFamily: audit.ControlFamily(r.URL.Query().Get("control_family")),
		ActorNode:     r.URL.Query().Get("actor"),
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteValidation(w, "start_time must be RFC 3339")
			return
		}
		q.StartTime = &t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteValidation(w, "end_time must be RFC 3339")
			return
		}
		q.EndTime = &t
	}

	limit := intParam(r, "limit", 100)
	page := intParam(r, "page", 1)
	if limit < 1 || page < 1 {
		api.WriteValidation(w, "limit and page must be positive")
		return
	}

	matched := s.log.Query(q)
	total := len(matched)

	offset := (page - 1) * limit
	events := []*audit.Event{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		events = matched[offset:end]
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GET /api/v1/audit/export
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if format := r.URL.Query().Get("format"); format != "" && format != "json" {
		api.WriteValidation(w, "unsupported export format "+strconv.Quote(format))
		return
	}
	data, err := s.log.Export()
	if err != nil {
		api.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /api/v1/audit/stats
func (s *Server) handleAuditStats(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}

// POST /api/v1/encrypt
func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		api.WriteErrorCode(w, types.CodeInternal, "encryption unavailable")
		return
	}
	var req struct {
		Plaintext      string               `json:"plaintext"`
		Classification types.Classification `json:"classification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid request body")
		return
	}
	if req.Plaintext == "" {
		api.WriteValidation(w, "plaintext must not be empty")
		return
	}
	if req.Classification != "" && !req.Classification.Valid() {
		api.WriteValidation(w, "unknown classification "+strconv.Quote(string(req.Classification)))
		return
	}

	sealed, err := s.engine.Encrypt([]byte(req.Plaintext))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, sealed)
}

// POST /api/v1/decrypt
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		api.WriteErrorCode(w, types.CodeInternal, "encryption unavailable")
		return
	}
	var req crypto.Sealed
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid request body")
		return
	}

	plaintext, err := s.engine.Decrypt(req.Ciphertext, req.Nonce, req.Tag)
	if err != nil {
		switch {
		case errors.Is(err, crypto.ErrAuthFailed):
			api.WriteErrorCode(w, types.CodeAuthFailed, "message authentication failed")
		case errors.Is(err, crypto.ErrMalformed):
			api.WriteValidation(w, "malformed ciphertext input")
		default:
			api.WriteError(w, err)
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"plaintext": string(plaintext),
		"verified":  true,
	})
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

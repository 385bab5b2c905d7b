package server

import (
	"net/http"

	"github.com/tacedge/tacgate/pkg/auth"
	"github.com/tacedge/tacgate/pkg/metrics"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Public surface
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	guard := func(perm string, h http.HandlerFunc) http.HandlerFunc {
		return auth.RequirePermission(perm, s.log, h)
	}

	// Messages
	mux.HandleFunc("POST /api/v1/messages", guard(auth.PermMessageSend, s.handleSendMessage))
	mux.HandleFunc("GET /api/v1/messages/{id}", guard(auth.PermMessageRead, s.handleMessageStatus))
	mux.HandleFunc("GET /api/v1/messages/{id}/content", guard(auth.PermMessageRead, s.handleMessageContent))
	mux.HandleFunc("POST /api/v1/messages/{id}/ack", guard(auth.PermMessageRead, s.handleMessageAck))

	// Nodes
	mux.HandleFunc("GET /api/v1/nodes", guard(auth.PermNodeStatus, s.handleNodes))

	// Queue
	mux.HandleFunc("POST /api/v1/queue/enqueue", guard(auth.PermInternalCall, s.handleEnqueue))
	mux.HandleFunc("GET /api/v1/queue/status", guard(auth.PermNodeStatus, s.handleQueueStatus))
	mux.HandleFunc("POST /api/v1/queue/flush", guard(auth.PermNodeManage, s.handleFlush))

	// Audit
	mux.HandleFunc("POST /api/v1/audit/events", guard(auth.PermInternalCall, s.handleAuditAppend))
	mux.HandleFunc("GET /api/v1/audit/events", guard(auth.PermAuditRead, s.handleAuditList))
	mux.HandleFunc("GET /api/v1/audit/export", guard(auth.PermAuditExport, s.handleAuditExport))
	mux.HandleFunc("GET /api/v1/audit/stats", guard(auth.PermAuditRead, s.handleAuditStats))

	// Crypto
	mux.HandleFunc("POST /api/v1/encrypt", guard(auth.PermInternalCall, s.handleEncrypt))
	mux.HandleFunc("POST /api/v1/decrypt", guard(auth.PermInternalCall, s.handleDecrypt))

	return mux
}

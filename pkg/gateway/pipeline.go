package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tacedge/tacgate/pkg/audit"
	"github.com/tacedge/tacgate/pkg/auth"
	"github.com/tacedge/tacgate/pkg/config"
	"github.com/tacedge/tacgate/pkg/crypto"
	"github.com/tacedge/tacgate/pkg/delivery"
	"github.com/tacedge/tacgate/pkg/metrics"
	"github.com/tacedge/tacgate/pkg/queue"
	"github.com/tacedge/tacgate/pkg/types"
)

// plaintextMarker prefixes payloads sent without encryption under the
// degraded-mode flag, so receivers can tell them apart from ciphertext.
const plaintextMarker = "UNENCRYPTED:"

// Auditor is the slice of the audit log the pipeline needs. A failing
// auditor must never fail a send.
type Auditor interface {
	Append(eventType string, family audit.ControlFamily, actor audit.Actor, action audit.Action, context map[string]any) (*audit.Event, error)
}

// Enqueuer is the slice of the queue manager the pipeline needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, e *queue.Entry) (int64, error)
}

// SendRequest is the body of POST /api/v1/messages.
type SendRequest struct {
	Precedence     types.Precedence     `json:"precedence"`
	Classification types.Classification `json:"classification"`
	Sender         string               `json:"sender"`
	Recipient      string               `json:"recipient"`
	Content        string               `json:"content"`
	TTL            int                  `json:"ttl"` // seconds; 0 selects the policy default
}

// Pipeline runs the send path: validate, encrypt, audit, route.
type Pipeline struct {
	store    *StatusStore
	engine   *crypto.Engine // nil when running without an encryption key
	auditor  Auditor
	manager  Enqueuer
	registry delivery.Registry
	tx       *delivery.Transmitter
	policy   *config.DeliveryPolicy

	allowPlaintext bool
	logger         *slog.Logger
	clock          func() time.Time

	// Entries whose enqueue failed outright; the drain worker retries
	// them each cycle while the message shows QUEUED.
	deferredMu sync.Mutex
	deferred   []*queue.Entry
}

// NewPipeline wires the pipeline. engine may be nil only when
// allowPlaintext is set.
func NewPipeline(
	store *StatusStore,
	engine *crypto.Engine,
	auditor Auditor,
	manager Enqueuer,
	registry delivery.Registry,
	tx *delivery.Transmitter,
	policy *config.DeliveryPolicy,
	allowPlaintext bool,
) *Pipeline {
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Pipeline{
		store:          store,
		engine:         engine,
		auditor:        auditor,
		manager:        manager,
		registry:       registry,
		tx:             tx,
		policy:         policy,
		allowPlaintext: allowPlaintext,
		logger:         slog.Default().With("component", "pipeline"),
		clock:          time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (p *Pipeline) SetClock(clock func() time.Time) { p.clock = clock }

// Send runs the full pipeline for one message and returns the record
// in its post-routing state.
func (p *Pipeline) Send(ctx context.Context, principal *auth.Principal, req SendRequest) (Record, error) {
	start := p.clock()

	if err := p.validate(req); err != nil {
		return Record{}, err
	}
	if req.Classification.Exceeds(principal.Ceiling) {
		p.auditDenied(principal, req)
		return Record{}, types.E(types.CodeForbidden,
			"classification %s exceeds caller ceiling %s", req.Classification, principal.Ceiling)
	}

	ttl := time.Duration(req.TTL) * time.Second
	if ttl <= 0 {
		ttl = p.policy.TTLFor(req.Precedence)
	}

	now := start.UTC()
	rec := &Record{
		MessageID:         "msg-" + uuid.New().String(),
		Precedence:        req.Precedence,
		Classification:    req.Classification,
		Sender:            req.Sender,
		Recipient:         req.Recipient,
		Content:           req.Content,
		Status:            types.StatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		EstimatedDelivery: now.Add(req.Precedence.MaxLatency()),
	}
	p.store.Put(rec)

	payload, encrypted, err := p.seal(principal, rec, req.Content)
	if err != nil {
		p.store.Advance(rec.MessageID, types.StatusFailed)
		p.auditSent(principal, rec, audit.OutcomeFailure, "encryption unavailable")
		metrics.MessagesTotal.WithLabelValues(string(req.Precedence), string(types.StatusFailed)).Inc()
		return Record{}, err
	}
	rec.OutboundPayload = payload
	rec.Encrypted = encrypted

	status := p.route(ctx, rec, payload)

	p.auditSent(principal, rec, audit.OutcomeSuccess, "")

	metrics.MessagesTotal.WithLabelValues(string(req.Precedence), string(status)).Inc()
	metrics.MessageLatency.WithLabelValues(string(req.Precedence)).
		Observe(p.clock().Sub(start).Seconds())

	out, _ := p.store.Get(rec.MessageID)
	return out, nil
}

const (
	maxIDLen      = 64
	maxContentLen = 65536
	minTTLSeconds = 60
	maxTTLSeconds = 86400
)

func (p *Pipeline) validate(req SendRequest) error {
	switch {
	case !req.Precedence.Valid():
		return types.E(types.CodeValidation, "unknown precedence %q", req.Precedence)
	case !req.Classification.Valid():
		return types.E(types.CodeValidation, "unknown classification %q", req.Classification)
	case req.Sender == "" || len(req.Sender) > maxIDLen:
		return types.E(types.CodeValidation, "sender must be 1..%d characters", maxIDLen)
	case req.Recipient == "" || len(req.Recipient) > maxIDLen:
		return types.E(types.CodeValidation, "recipient must be 1..%d characters", maxIDLen)
	case req.Content == "" || len(req.Content) > maxContentLen:
		return types.E(types.CodeValidation, "content must be 1..%d bytes", maxContentLen)
	case req.TTL != 0 && (req.TTL < minTTLSeconds || req.TTL > maxTTLSeconds):
		return types.E(types.CodeValidation, "ttl must be %d..%d seconds", minTTLSeconds, maxTTLSeconds)
	}
	return nil
}

// seal encrypts the content, or falls back to a marked plaintext
// payload when degraded mode is enabled. Every fallback occurrence is
// an SI-family audit event.
func (p *Pipeline) seal(principal *auth.Principal, rec *Record, content string) (string, bool, error) {
	if p.engine != nil {
		sealed, err := p.engine.Encrypt([]byte(content))
		if err == nil {
			blob, merr := crypto.EncodeSealed(sealed)
			if merr == nil {
				return blob, true, nil
			}
			err = merr
		}
		if !p.allowPlaintext {
			p.logger.Error("encryption failed and plaintext fallback is disabled",
				"message_id", rec.MessageID, "error", err)
			return "", false, types.E(types.CodeInternal, "encryption unavailable")
		}
		p.auditFallback(principal, rec, err.Error())
		return plaintextMarker + content, false, nil
	}

	if !p.allowPlaintext {
		return "", false, types.E(types.CodeInternal, "encryption unavailable")
	}
	p.auditFallback(principal, rec, "no encryption key configured")
	return plaintextMarker + content, false, nil
}

// route attempts direct delivery when the recipient is connected, and
// stores the message otherwise. An enqueue failure leaves the message
// QUEUED and deferred for the worker to retry.
func (p *Pipeline) route(ctx context.Context, rec *Record, payload string) types.Status {
	if p.registry.IsConnected(rec.Recipient) {
		err := p.tx.Deliver(ctx, rec.MessageID, rec.Recipient, payload, rec.Precedence)
		if err == nil {
			p.store.MarkDelivered(rec.MessageID, p.clock())
			return types.StatusTransmitted
		}
		p.logger.Warn("direct delivery failed, storing",
			"message_id", rec.MessageID, "recipient", rec.Recipient, "error", err)
	}

	entry := &queue.Entry{
		MessageID:        rec.MessageID,
		Recipient:        rec.Recipient,
		EncryptedContent: payload,
		Precedence:       rec.Precedence,
		CreatedAt:        rec.CreatedAt,
		ExpiresAt:        rec.ExpiresAt,
	}
	if _, err := p.manager.Enqueue(ctx, entry); err != nil {
		p.logger.Error("enqueue failed, deferring to drain worker",
			"message_id", rec.MessageID, "error", err)
		p.deferEntry(entry)
		p.store.Advance(rec.MessageID, types.StatusQueued)
		return types.StatusQueued
	}
	p.store.Advance(rec.MessageID, types.StatusStored)
	return types.StatusStored
}

func (p *Pipeline) deferEntry(e *queue.Entry) {
	p.deferredMu.Lock()
	p.deferred = append(p.deferred, e)
	p.deferredMu.Unlock()
}

// RetryDeferred re-attempts enqueues that failed during send. Wired to
// the drain worker's cycle hook.
func (p *Pipeline) RetryDeferred(ctx context.Context) {
	p.deferredMu.Lock()
	pending := p.deferred
	p.deferred = nil
	p.deferredMu.Unlock()

	for _, e := range pending {
		if _, err := p.manager.Enqueue(ctx, e); err != nil && err != queue.ErrAlreadyQueued {
			p.deferEntry(e)
			continue
		}
		p.store.Advance(e.MessageID, types.StatusStored)
	}
}

// HandleDelivered is the worker hook for a drained entry.
func (p *Pipeline) HandleDelivered(e *queue.Entry) {
	p.store.MarkDelivered(e.MessageID, p.clock())
}

// HandleExpired is the worker hook for a dropped entry.
func (p *Pipeline) HandleExpired(e *queue.Entry) {
	p.store.Advance(e.MessageID, types.StatusExpired)
}

// DeliverEntry delivers a stored entry. Wired as the worker's deliver
// function.
func (p *Pipeline) DeliverEntry(ctx context.Context, e *queue.Entry) error {
	return p.tx.Deliver(ctx, e.MessageID, e.Recipient, e.EncryptedContent, e.Precedence)
}

// GetStatus returns the record for a message.
func (p *Pipeline) GetStatus(messageID string) (Record, error) {
	rec, ok := p.store.Get(messageID)
	if !ok {
		return Record{}, types.E(types.CodeNotFound, "message %s not found", messageID)
	}
	return rec, nil
}

// GetContent returns the record including its plaintext body.
func (p *Pipeline) GetContent(messageID string) (Record, error) {
	return p.GetStatus(messageID)
}

// Ack marks a message acknowledged. The first ack is audited; repeats
// are idempotent.
func (p *Pipeline) Ack(messageID string, principal *auth.Principal) (Record, error) {
	rec, ok, first := p.store.Ack(messageID, p.clock(), principal.ActorNode())
	if !ok {
		return Record{}, types.E(types.CodeNotFound, "message %s not found", messageID)
	}
	if first {
		p.append("MESSAGE_ACKNOWLEDGED", audit.FamilyAudit,
			p.actor(principal),
			audit.Action{
				Operation: "ACK_MESSAGE",
				Resource:  "message:" + messageID,
				Outcome:   audit.OutcomeSuccess,
			}, nil)
	}
	return rec, nil
}

func (p *Pipeline) actor(principal *auth.Principal) audit.Actor {
	return audit.Actor{
		NodeID: principal.ActorNode(),
		Role:   string(principal.Role),
	}
}

func (p *Pipeline) auditSent(principal *auth.Principal, rec *Record, outcome audit.Outcome, reason string) {
	p.append("MESSAGE_SENT", audit.FamilyAudit,
		p.actor(principal),
		audit.Action{
			Operation: "SEND_MESSAGE",
			Resource:  "message:" + rec.MessageID,
			Outcome:   outcome,
			Reason:    reason,
		},
		map[string]any{
			"precedence":     string(rec.Precedence),
			"classification": string(rec.Classification),
			"recipient":      rec.Recipient,
			"encrypted":      rec.Encrypted,
		})
}

func (p *Pipeline) auditDenied(principal *auth.Principal, req SendRequest) {
	p.append("ACCESS_DENIED", audit.FamilyAccessControl,
		p.actor(principal),
		audit.Action{
			Operation: "SEND_MESSAGE",
			Resource:  "message:new",
			Outcome:   audit.OutcomeFailure,
			Reason:    "classification above caller ceiling",
		},
		map[string]any{
			"classification": string(req.Classification),
			"ceiling":        string(principal.Ceiling),
		})
}

func (p *Pipeline) auditFallback(principal *auth.Principal, rec *Record, reason string) {
	p.logger.Warn("sending without encryption (degraded mode)",
		"message_id", rec.MessageID, "reason", reason)
	p.append("CRYPTO_FALLBACK", audit.FamilyIntegrity,
		p.actor(principal),
		audit.Action{
			Operation: "ENCRYPT_MESSAGE",
			Resource:  "message:" + rec.MessageID,
			Outcome:   audit.OutcomeFailure,
			Reason:    reason,
		}, nil)
}

// append writes an audit event. Failures are counted and logged, never
// propagated: the pipeline must not block or fail on its audit trail.
func (p *Pipeline) append(eventType string, family audit.ControlFamily, actor audit.Actor, action audit.Action, context map[string]any) {
	if p.auditor == nil {
		return
	}
	if _, err := p.auditor.Append(eventType, family, actor, action, context); err != nil {
		metrics.AuditFailures.Inc()
		p.logger.Error("audit append failed", "event_type", eventType, "error", err)
	}
}

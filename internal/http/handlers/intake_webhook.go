package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const (
	maxWebhookBodyBytes = 1 << 20
	signatureHeader     = "X-Webhook-Signature"
)

// EventDispatcher runs a change notification through the pipeline synchronously.
type EventDispatcher interface {
	Dispatch(ctx context.Context, route pipeline.Route, body []byte) pipeline.Result
}

// Enqueuer hands a change notification to the intake queue instead of running it inline.
type Enqueuer interface {
	Enqueue(ctx context.Context, route pipeline.Route, body []byte) error
}

// IntakeWebhookHandler receives database change notifications and coordinated calls.
type IntakeWebhookHandler struct {
	dispatcher EventDispatcher
	queue      Enqueuer
	secret     string
	logger     *logging.Logger
}

// IntakeWebhookConfig configures the ingress handler. Queue is optional; when set,
// bodies are enqueued and acknowledged with 202 for the worker to process.
type IntakeWebhookConfig struct {
	Dispatcher EventDispatcher
	Queue      Enqueuer
	Secret     string
	Logger     *logging.Logger
}

// NewIntakeWebhookHandler builds the ingress handler. It panics when neither a
// dispatcher nor a queue is configured.
func NewIntakeWebhookHandler(cfg IntakeWebhookConfig) *IntakeWebhookHandler {
	if cfg.Dispatcher == nil && cfg.Queue == nil {
		panic("handlers: intake webhook needs a dispatcher or a queue")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &IntakeWebhookHandler{
		dispatcher: cfg.Dispatcher,
		queue:      cfg.Queue,
		secret:     strings.TrimSpace(cfg.Secret),
		logger:     cfg.Logger,
	}
}

// HandleFiles is the Stage 1 ingress.
// Route: POST /webhooks/intake/files
func (h *IntakeWebhookHandler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, pipeline.RouteFiles)
}

// HandleSummary is the Stage 2 ingress.
// Route: POST /webhooks/intake/summary
func (h *IntakeWebhookHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, pipeline.RouteSummary)
}

func (h *IntakeWebhookHandler) handle(w http.ResponseWriter, r *http.Request, route pipeline.Route) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, pipeline.Result{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, pipeline.Result{Error: "invalid request body"})
		return
	}

	if h.secret != "" && !verifySignature(h.secret, body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("invalid intake webhook signature", "route", string(route))
		writeJSON(w, http.StatusUnauthorized, pipeline.Result{Error: "invalid signature"})
		return
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(r.Context(), route, body); err != nil {
			h.logger.Error("failed to enqueue change notification", "error", err, "route", string(route))
			writeJSON(w, http.StatusInternalServerError, pipeline.Result{Error: "failed to enqueue notification"})
			return
		}
		writeJSON(w, http.StatusAccepted, pipeline.Result{Success: true, Message: "queued"})
		return
	}

	res := h.dispatcher.Dispatch(r.Context(), route, body)
	writeJSON(w, res.StatusCode, res)
}

// verifySignature checks an HMAC-SHA256 of the raw body in "sha256=<hex>" form.
func verifySignature(secret string, payload []byte, header string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	providedSig, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), providedSig)
}

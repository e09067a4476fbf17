package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidahmann/charter/internal/attest"
	"github.com/davidahmann/charter/internal/auth"
	"github.com/davidahmann/charter/internal/disclosure"
	"github.com/davidahmann/charter/internal/ledger"
	"github.com/davidahmann/charter/internal/policy"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Auth    auth.Authenticator
	Service *Service
	Limiter *RateLimiter
	Log     *slog.Logger
}

// NewRouter mounts the gateway API. Everything under /v1 requires auth.
func NewRouter(h *Handler) http.Handler {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(WithRequestID, LogRequests(log))
	if h.Limiter != nil {
		r.Use(h.Limiter.Middleware)
	}

	r.Get("/healthz", h.Health)
	r.Route("/v1", func(v chi.Router) {
		v.Use(auth.Middleware(h.Auth, unauthorized))
		v.Post("/evaluate", h.Evaluate)
		v.Post("/approvals", h.Approve)
		v.Post("/disclosure", h.Disclosure)
		v.Post("/attestations/validate", h.ValidateAttestation)
		v.Get("/constitution", h.Constitution)
		v.Post("/constitution/reload", h.Reload)
		v.Get("/receipts/{receiptID}", h.Receipt)
		v.Get("/receipts/{receiptID}/verify", h.VerifyReceipt)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "constitution_loaded": false}
	if snap := h.Service.Engine.Store().Current(); snap != nil {
		body["constitution_loaded"] = true
		body["generation"] = snap.Generation
		body["doc_hash"] = snap.Document().DocHash
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeInto(w, r, evaluateSchema, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = RequestIDFrom(r.Context())
	}

	resp, err := h.Service.Evaluate(req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeInto(w, r, approveSchema, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = RequestIDFrom(r.Context())
	}
	if req.Approver == "" {
		if claims, ok := auth.ClaimsFrom(r.Context()); ok && claims.Method != auth.MethodNone {
			req.Approver = claims.Subject
		}
	}

	resp, err := h.Service.Approve(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ledger.ErrApprovalNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrApprovalConsumed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, policy.ErrApprovalScopeMismatch), errors.Is(err, ErrApprovalBlocked):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

type DisclosureRequest struct {
	Text       string             `json:"text"`
	RuleID     string             `json:"rule_id,omitempty"`
	Disclosure *policy.Disclosure `json:"disclosure,omitempty"`
}

type DisclosureResponse struct {
	Text    string `json:"text"`
	Changed bool   `json:"changed"`
}

// Disclosure applies either an explicit disclosure or the one a rule of the
// loaded constitution requires.
func (h *Handler) Disclosure(w http.ResponseWriter, r *http.Request) {
	var req DisclosureRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	var d policy.Disclosure
	switch {
	case req.Disclosure != nil:
		d = *req.Disclosure
	case req.RuleID != "":
		snap := h.Service.Engine.Store().Current()
		if snap == nil {
			writeError(w, r, http.StatusServiceUnavailable, ErrNotLoaded.Error())
			return
		}
		found, ok := disclosure.Lookup(snap.Document(), req.RuleID)
		if !ok {
			writeError(w, r, http.StatusNotFound, "rule has no disclosure: "+req.RuleID)
			return
		}
		d = found
	default:
		writeError(w, r, http.StatusBadRequest, "rule_id or disclosure is required")
		return
	}

	out := disclosure.ApplyDisclosure(req.Text, d)
	writeJSON(w, http.StatusOK, DisclosureResponse{Text: out, Changed: out != req.Text})
}

func (h *Handler) ValidateAttestation(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v := attest.Verify(raw)
	status := http.StatusOK
	if !v.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, v)
}

type ConstitutionSummary struct {
	ID         string   `json:"id"`
	Revision   int      `json:"revision"`
	DocHash    string   `json:"doc_hash"`
	KeyID      string   `json:"key_id"`
	Generation uint64   `json:"generation"`
	LoadedAt   string   `json:"loaded_at"`
	Rules      []string `json:"rules"`
}

func summarize(snap *policy.Snapshot) ConstitutionSummary {
	doc := snap.Document()
	rules := make([]string, 0, len(doc.Rules))
	for _, rule := range doc.Rules {
		rules = append(rules, rule.ID)
	}
	return ConstitutionSummary{
		ID:         doc.ID,
		Revision:   doc.Revision,
		DocHash:    doc.DocHash,
		KeyID:      snap.Loaded.Signature.KeyID,
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt.UTC().Format(time.RFC3339),
		Rules:      rules,
	}
}

func (h *Handler) Constitution(w http.ResponseWriter, r *http.Request) {
	snap := h.Service.Engine.Store().Current()
	if snap == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrNotLoaded.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(snap))
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Reload()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summarize(snap))
	case errors.Is(err, ErrReloadDisabled):
		writeError(w, r, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	}
}

type ReceiptResponse struct {
	ReceiptID     string          `json:"receipt_id"`
	PrevReceiptID *string         `json:"prev_receipt_id"`
	Status        string          `json:"status"`
	KeyID         string          `json:"key_id"`
	Sig           string          `json:"sig"`
	Body          json.RawMessage `json:"body"`
}

func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "receiptID")
	rec, ok := h.Service.Recorder.Store().GetReceipt(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, ledger.ErrReceiptNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReceiptResponse{
		ReceiptID:     rec.ReceiptID,
		PrevReceiptID: rec.PrevReceiptID,
		Status:        rec.Status,
		KeyID:         rec.KeyID,
		Sig:           base64.StdEncoding.EncodeToString(rec.Sig),
		Body:          json.RawMessage(rec.BodyJSON),
	})
}

func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "receiptID")
	n, err := ledger.VerifyChain(h.Service.Recorder.Store(), id, h.Service.PublicKey)
	if errors.Is(err, ledger.ErrReceiptNotFound) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	body := map[string]any{
		"receipt_id":   id,
		"valid":        err == nil,
		"chain_length": n,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeInto(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	err := decodeRequest(io.LimitReader(r.Body, maxBodyBytes), schema, out)
	if err == nil {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid request",
			"problems":   reqErr.Problems,
			"request_id": RequestIDFrom(r.Context()),
		})
		return false
	}
	writeError(w, r, http.StatusInternalServerError, err.Error())
	return false
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusUnauthorized, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "request_id": RequestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

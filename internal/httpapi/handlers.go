// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/civora/ballotcore/internal/aggregation"
	"github.com/civora/ballotcore/internal/credential"
	"github.com/civora/ballotcore/internal/log"
	"github.com/civora/ballotcore/internal/metrics"
	"github.com/civora/ballotcore/internal/nonce"
	"github.com/civora/ballotcore/internal/receipt"
	"github.com/civora/ballotcore/internal/store"
	"github.com/civora/ballotcore/internal/vote"
)

// Handler wires the vote engine, receipt signer, aggregation service, and
// nonce store to the four endpoints named in §6.2, plus the nonce-request
// and health endpoints §6.1 and ambient operations require.
type Handler struct {
	votes        *vote.Engine
	nonces       *nonce.Store
	signer       *receipt.Signer
	aggregation  *aggregation.Service
	credentials  *credential.Verifier
	anchors      anchorLookup
	metrics      metrics.Metrics
	log          log.Logger
	health       *HealthRegistry
	publicKeyPEM string
}

// anchorLookup is the narrow slice of *store.Store a verify-receipt lookup
// needs, kept as an interface so tests can fake it without a real database.
type anchorLookup interface {
	LatestAnchor(ctx context.Context, pollID string) (store.Anchor, error)
}

// New builds a Handler. publicKeyPEM is cached at construction since the
// signing key is immutable for the process lifetime (§5 shared-resource
// policy).
func New(votes *vote.Engine, nonces *nonce.Store, signer *receipt.Signer, agg *aggregation.Service, creds *credential.Verifier, anchors anchorLookup, m metrics.Metrics, logger log.Logger, health *HealthRegistry) (*Handler, error) {
	pem, err := signer.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	return &Handler{
		votes: votes, nonces: nonces, signer: signer, aggregation: agg,
		credentials: creds, anchors: anchors, metrics: m, log: logger,
		health: health, publicKeyPEM: pem,
	}, nil
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/nonce", h.handleNonceRequest)
	mux.HandleFunc("/v1/votes", h.handleSubmitVote)
	mux.HandleFunc("/v1/receipt/public-key", h.handlePublicKey)
	mux.HandleFunc("/v1/receipt/verify", h.handleVerifyReceipt)
	mux.HandleFunc("/v1/polls/", h.handlePollResults)
	mux.HandleFunc("/healthz", h.handleHealth)
}

type nonceRequest struct {
	Purpose string `json:"purpose"`
}

// handleNonceRequest implements §6.1's requestNonce(purpose) -> {nonce, ttl}.
func (h *Handler) handleNonceRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "POST only")
		return
	}
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, http.StatusBadRequest, "BadRequest", "malformed request body")
		return
	}
	n, ttl, err := h.nonces.Generate(r.Context(), nonce.Purpose(req.Purpose))
	if err != nil {
		if errors.Is(err, nonce.ErrUnknownPurpose) {
			_ = WriteError(w, http.StatusBadRequest, "BadRequest", "unknown nonce purpose")
			return
		}
		h.log.Error("httpapi: nonce generation failed", zap.Error(err))
		_ = WriteError(w, http.StatusServiceUnavailable, "BackingStoreUnavailable", "nonce store unavailable")
		return
	}
	_ = WriteSuccess(w, map[string]interface{}{
		"nonce": n,
		"ttl":   int(ttl.Seconds()),
	})
}

type submitVoteRequest struct {
	PollID      string `json:"pollId"`
	OptionID    string `json:"optionId"`
	Nullifier   string `json:"nullifier"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	Attestation string `json:"attestation"`
}

// handleSubmitVote implements §6.2's vote submission endpoint. The bearer
// credential is parsed and verified here; the engine itself never sees a
// raw token.
func (h *Handler) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "POST only")
		return
	}
	cred, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req submitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, http.StatusBadRequest, "BadRequest", "malformed request body")
		return
	}

	result, err := h.votes.Submit(r.Context(), vote.Request{
		PollID:           req.PollID,
		OptionID:         req.OptionID,
		ClaimedNullifier: req.Nullifier,
		Nonce:            req.Nonce,
		Signature:        req.Signature,
		Attestation:      req.Attestation,
		Credential:       cred,
	})
	if err != nil {
		h.writeVoteError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.VotesAccepted().Inc()
	}
	_ = WriteSuccess(w, map[string]interface{}{
		"receipt": result.Receipt,
		"txHash":  result.TxRef,
	})
}

// writeVoteError maps a vote.Code to the §7 taxonomy's HTTP status. It
// never reveals whether the voter has voted in any poll other than the one
// named in the request.
func (h *Handler) writeVoteError(w http.ResponseWriter, err error) {
	code, ok := vote.AsCode(err)
	if !ok {
		h.log.Error("httpapi: unclassified vote error", zap.Error(err))
		_ = WriteError(w, http.StatusInternalServerError, "InternalError", "vote submission failed")
		return
	}
	if h.metrics != nil {
		h.metrics.VotesRejected().WithLabelValues(string(code)).Inc()
	}
	status := http.StatusBadRequest
	switch code {
	case vote.CodeNotFound:
		status = http.StatusNotFound
	case vote.CodeBackingStoreUnavail:
		status = http.StatusServiceUnavailable
	case vote.CodeIneligible, vote.CodeNullifierMismatch, vote.CodeAlreadyVoted:
		status = http.StatusForbidden
	case vote.CodeNonceInvalid, vote.CodePollInactive, vote.CodeOptionInvalid:
		status = http.StatusBadRequest
	}
	_ = WriteError(w, status, string(code), err.Error())
}

// authenticate extracts and verifies the bearer VoterCredential (§6.1). On
// failure it writes the response itself and returns ok=false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (credential.Credential, bool) {
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found || token == "" {
		_ = WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer credential")
		return credential.Credential{}, false
	}
	cred, err := h.credentials.Verify(token)
	if err != nil {
		_ = WriteError(w, http.StatusUnauthorized, "Unauthorized", "credential rejected")
		return credential.Credential{}, false
	}
	return cred, true
}

// handlePublicKey implements §6.2's receipt public key endpoint.
func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "GET only")
		return
	}
	_ = WriteSuccess(w, map[string]interface{}{"publicKey": h.publicKeyPEM, "algorithm": receipt.Algorithm})
}

// handleVerifyReceipt implements §6.2's public, side-effect-free receipt
// verification endpoint.
func (h *Handler) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "POST only")
		return
	}
	var signed receipt.Signed
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		_ = WriteError(w, http.StatusBadRequest, "BadRequest", "malformed receipt")
		return
	}
	sigValid := h.signer.Verify(signed)
	valid := sigValid && signed.Version == receipt.Version && signed.Algorithm == receipt.Algorithm

	out := map[string]interface{}{
		"valid":          valid,
		"signatureValid": sigValid,
		"payload":        signed.Payload,
	}
	if valid && h.anchors != nil {
		if anchor, err := h.anchors.LatestAnchor(r.Context(), signed.Payload.PollID); err == nil {
			out["onChainAnchor"] = map[string]interface{}{
				"root":          anchor.Root,
				"externalTxRef": anchor.ExternalTxRef,
				"submittedAt":   anchor.SubmittedAt,
			}
		}
	}
	_ = WriteSuccess(w, out)
}

// handlePollResults implements §6.2's aggregated results endpoint:
// GET /v1/polls/{id}/results?breakdownBy=gender,region
func (h *Handler) handlePollResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "GET only")
		return
	}
	pollID, ok := parsePollResultsPath(r.URL.Path)
	if !ok {
		_ = WriteError(w, http.StatusNotFound, "NotFound", "unknown route")
		return
	}
	var dims []aggregation.Dimension
	if raw := r.URL.Query().Get("breakdownBy"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			dims = append(dims, aggregation.Dimension(strings.TrimSpace(part)))
		}
	}
	result, err := h.aggregation.GetResults(r.Context(), pollID, dims)
	if err != nil {
		if errors.Is(err, aggregation.ErrInferenceAttackSuspected) {
			_ = WriteError(w, http.StatusForbidden, "InferenceAttackSuspected", "requested breakdown risks re-identification")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			_ = WriteError(w, http.StatusNotFound, "NotFound", "poll not found")
			return
		}
		h.log.Error("httpapi: aggregation failed", zap.String("pollId", pollID), zap.Error(err))
		_ = WriteError(w, http.StatusInternalServerError, "InternalError", "results unavailable")
		return
	}
	_ = WriteSuccess(w, result)
}

func parsePollResultsPath(path string) (string, bool) {
	const prefix = "/v1/polls/"
	const suffix = "/results"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	pollID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if pollID == "" {
		return "", false
	}
	return pollID, true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Report(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	_ = WriteJSON(w, status, report)
}

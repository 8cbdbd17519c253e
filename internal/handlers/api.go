package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/auth"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/verification"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes  = 1 << 20
	maxBatchItems = 100
)

type Verifier interface {
	Verify(ctx context.Context, data judging.ChallengeData, sub judging.Submission, challengeType judging.ChallengeType) (judging.Verdict, error)
	VerifyBatch(ctx context.Context, items []verification.BatchItem, limit int) []verification.BatchResult
}

type Assessor interface {
	Assess(sub judging.Submission, priors []judging.Submission) judging.FraudAssessment
}

type WinnerSelector interface {
	DetermineWinners(submissions []judging.Submission, maxWinners int) judging.WinnerResult
}

type ChallengeWriter interface {
	Put(ctx context.Context, eventID, challengeID string, data judging.ChallengeData) error
}

type Validator interface {
	Validate(s interface{}) error
}

type VerifyRequest struct {
	ChallengeData judging.ChallengeData `json:"challengeData"`
	Submission    judging.Submission    `json:"submission"`
}

// BatchVerifyRequest items without challengeData are verified by reference.
type BatchVerifyRequest struct {
	Items []struct {
		ChallengeData *judging.ChallengeData `json:"challengeData,omitempty"`
		Submission    judging.Submission     `json:"submission"`
	} `json:"items"`
}

type BatchVerifyResult struct {
	SubmissionID string           `json:"submissionId"`
	Verdict      *judging.Verdict `json:"verdict,omitempty"`
	Error        string           `json:"error,omitempty"`
	Kind         string           `json:"kind,omitempty"`
}

type FraudRequest struct {
	Submission judging.Submission   `json:"submission"`
	Priors     []judging.Submission `json:"priors"`
}

type WinnersRequest struct {
	Submissions []judging.Submission `json:"submissions"`
	MaxWinners  *int                 `json:"maxWinners,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// API serves the synchronous judging endpoints under /v1.
type API struct {
	verifier   Verifier
	detector   Assessor
	selector   WinnerSelector
	challenges ChallengeWriter
	validator  Validator
	maxWinners int
	batchLimit int
	logger     zerolog.Logger
}

// NewAPI builds the handlers. batchLimit bounds the judge calls one batch
// request keeps in flight.
func NewAPI(verifier Verifier, detector Assessor, selector WinnerSelector, challenges ChallengeWriter, validator Validator, maxWinners, batchLimit int, logger zerolog.Logger) *API {
	return &API{
		verifier:   verifier,
		detector:   detector,
		selector:   selector,
		challenges: challenges,
		validator:  validator,
		maxWinners: maxWinners,
		batchLimit: batchLimit,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes returns the /v1 mux. Challenge writes need the operator role.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verify", a.handleVerify)
	mux.HandleFunc("POST /v1/verify/batch", a.handleVerifyBatch)
	mux.HandleFunc("POST /v1/fraud/assess", a.handleFraud)
	mux.HandleFunc("POST /v1/winners", a.handleWinners)
	mux.Handle("PUT /v1/challenges/{eventId}/{challengeId}", auth.RequireRole(auth.RoleOperator, http.HandlerFunc(a.handlePutChallenge)))
	return mux
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.validator.Validate(req.Submission); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	verdict, err := a.verifier.Verify(r.Context(), req.ChallengeData, req.Submission, req.Submission.ChallengeType)
	if err != nil {
		var verr *verification.Error
		if errors.As(err, &verr) {
			writeError(w, statusForKind(verr.Kind), err, string(verr.Kind))
			return
		}
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (a *API) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchVerifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		writeError(w, http.StatusBadRequest, fmt.Errorf("batch must hold 1 to %d items", maxBatchItems), "")
		return
	}

	items := make([]verification.BatchItem, len(req.Items))
	for i, item := range req.Items {
		if err := a.validator.Validate(item.Submission); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("item %d: %w", i, err), "")
			return
		}
		items[i] = verification.BatchItem{ChallengeData: item.ChallengeData, Submission: item.Submission}
	}

	results := a.verifier.VerifyBatch(r.Context(), items, a.batchLimit)
	out := make([]BatchVerifyResult, len(results))
	for i, res := range results {
		out[i].SubmissionID = res.SubmissionID
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			var verr *verification.Error
			if errors.As(res.Err, &verr) {
				out[i].Kind = string(verr.Kind)
			}
			continue
		}
		verdict := res.Verdict
		out[i].Verdict = &verdict
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

func (a *API) handleFraud(w http.ResponseWriter, r *http.Request) {
	var req FraudRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Submission.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("submission.id is required"), "")
		return
	}
	writeJSON(w, http.StatusOK, a.detector.Assess(req.Submission, req.Priors))
}

func (a *API) handleWinners(w http.ResponseWriter, r *http.Request) {
	var req WinnersRequest
	if !a.decode(w, r, &req) {
		return
	}
	maxWinners := a.maxWinners
	if req.MaxWinners != nil {
		maxWinners = *req.MaxWinners
	}
	writeJSON(w, http.StatusOK, a.selector.DetermineWinners(req.Submissions, maxWinners))
}

func (a *API) handlePutChallenge(w http.ResponseWriter, r *http.Request) {
	var data judging.ChallengeData
	if !a.decode(w, r, &data) {
		return
	}
	eventID, challengeID := r.PathValue("eventId"), r.PathValue("challengeId")
	if err := a.challenges.Put(r.Context(), eventID, challengeID, data); err != nil {
		a.logger.Error().Err(err).Str("eventId", eventID).Str("challengeId", challengeID).Msg("Failed to store challenge")
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}

	if claims := auth.GetUserFromContext(r.Context()); claims != nil {
		a.logger.Info().
			Str("eventId", eventID).
			Str("challengeId", challengeID).
			Str("operator", claims.GetUserID()).
			Msg("Challenge updated")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return false
	}
	return true
}

func statusForKind(kind verification.Kind) int {
	switch kind {
	case verification.KindChallengeDataUnavailable:
		return http.StatusNotFound
	case verification.KindJudgeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, kind string) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

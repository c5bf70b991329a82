package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"formulaflow/internal/formula"
	"formulaflow/internal/metrics"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/models"
)

// Headers carries the transaction headers of a formula submission.
type Headers struct {
	TransactionID        string
	CreationDateTime     string
	InitialTransactionID string
}

// HeadersFrom reads the transaction headers from an HTTP request.
func HeadersFrom(h http.Header) Headers {
	return Headers{
		TransactionID:        h.Get("transactionId"),
		CreationDateTime:     h.Get("creationDateTime"),
		InitialTransactionID: h.Get("initialTransactionId"),
	}
}

// Validate returns the first header problem, or "" when the headers are usable.
func (h Headers) Validate() string {
	switch {
	case h.TransactionID == "":
		return "Header transactionId is required"
	case !formula.ValidTransactionID(h.TransactionID):
		return "transactionId must be UUID RFC4122 format"
	case h.CreationDateTime == "":
		return "Header creationDateTime is required"
	}
	if _, err := formula.ParseTimestamp(h.CreationDateTime); err != nil {
		return "creationDateTime must be ISO 8601 format"
	}
	if h.InitialTransactionID != "" && !formula.ValidTransactionID(h.InitialTransactionID) {
		return "initialTransactionId must be UUID RFC4122 format"
	}
	return ""
}

// Response is a submission outcome ready to be written to the client.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// ErrorBody is the JSON body of a rejected request.
type ErrorBody struct {
	Error            string   `json:"error"`
	Message          string   `json:"message"`
	TransactionID    string   `json:"transactionId,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// SliceResult reports the validation outcome of one accepted time slice.
type SliceResult struct {
	TimeSliceID int  `json:"timeSliceId"`
	Valid       bool `json:"valid"`
}

// Acceptance is the JSON body of an accepted submission.
type Acceptance struct {
	Status             string        `json:"status"`
	TransactionID      string        `json:"transactionId"`
	AcceptanceTime     string        `json:"acceptanceTime"`
	LocationID         string        `json:"locationId"`
	LocationType       string        `json:"locationType"`
	TimeSlicesAccepted int           `json:"timeSlicesAccepted"`
	ValidationResults  []SliceResult `json:"validationResults"`
}

const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultReplayed = "replayed"
)

// Submit validates and stores a FormulaLocation. Client mistakes are reported
// in the Response; the error is reserved for storage failures.
func (p *Processor) Submit(ctx context.Context, h Headers, body []byte) (Response, error) {
	log := p.log.WithComponent("formula_submission").WithFields(logger.Fields{"transaction_id": h.TransactionID})

	if msg := h.Validate(); msg != "" {
		txID := h.TransactionID
		if txID == "" {
			txID = "unknown"
		}
		log.WithFields(logger.Fields{"reason": msg}).Warn("rejected submission headers")
		return p.reject(ErrorBody{Error: "Bad Request", Message: msg, TransactionID: txID})
	}

	if h.InitialTransactionID != "" {
		cached, err := p.repo.GetTransaction(ctx, h.InitialTransactionID)
		switch {
		case err == nil:
			log.WithFields(logger.Fields{"initial_transaction_id": h.InitialTransactionID}).Info("replaying cached submission response")
			metrics.IncrementSubmission(resultReplayed)
			return Response{StatusCode: cached.StatusCode, Body: cached.Response}, nil
		case !errors.Is(err, store.ErrNotFound):
			return Response{}, fmt.Errorf("load transaction %s: %w", h.InitialTransactionID, err)
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return p.reject(ErrorBody{Error: "Bad Request", Message: "Request body is required", TransactionID: h.TransactionID})
	}
	doc, err := formula.DecodeDocument(body)
	if err != nil {
		return p.reject(ErrorBody{Error: "Bad Request", Message: "Invalid JSON: " + err.Error(), TransactionID: h.TransactionID})
	}
	if emptyDocument(doc) {
		return p.reject(ErrorBody{Error: "Bad Request", Message: "Request body is required", TransactionID: h.TransactionID})
	}

	if errs := formula.ValidateFormulaLocation(doc); len(errs) > 0 {
		log.WithFields(logger.Fields{"validation_errors": len(errs)}).Warn("formula validation failed")
		return p.reject(ErrorBody{
			Error:            "Bad Request",
			Message:          "Validation failed",
			TransactionID:    h.TransactionID,
			ValidationErrors: errs,
		})
	}

	now := p.now()
	stored, err := models.NewStoredFormula(body, h.TransactionID, h.CreationDateTime, now)
	if err != nil {
		return p.reject(ErrorBody{Error: "Bad Request", Message: "Invalid JSON: " + err.Error(), TransactionID: h.TransactionID})
	}
	if err := p.repo.PutFormula(ctx, stored); err != nil {
		return Response{}, fmt.Errorf("store formula %s: %w", stored.LocationID, err)
	}

	accepted := Acceptance{
		Status:             resultAccepted,
		TransactionID:      h.TransactionID,
		AcceptanceTime:     models.Timestamp(now),
		LocationID:         stored.LocationID,
		LocationType:       stored.LocationType,
		TimeSlicesAccepted: len(stored.Location.TimeSlices),
		ValidationResults:  make([]SliceResult, 0, len(stored.Location.TimeSlices)),
	}
	for _, ts := range stored.Location.TimeSlices {
		accepted.ValidationResults = append(accepted.ValidationResults, SliceResult{TimeSliceID: ts.TimeSliceID, Valid: true})
	}

	raw, err := json.Marshal(accepted)
	if err != nil {
		return Response{}, fmt.Errorf("encode acceptance: %w", err)
	}
	if err := p.repo.PutTransaction(ctx, models.TransactionRecord{
		TransactionID: h.TransactionID,
		StatusCode:    http.StatusAccepted,
		Response:      raw,
	}); err != nil {
		return Response{}, fmt.Errorf("cache transaction %s: %w", h.TransactionID, err)
	}

	log.WithFields(logger.Fields{
		"location_id": stored.LocationID,
		"time_slices": accepted.TimeSlicesAccepted,
	}).Info("formula accepted")
	metrics.IncrementSubmission(resultAccepted)

	return Response{StatusCode: http.StatusAccepted, Body: raw}, nil
}

func (p *Processor) reject(body ErrorBody) (Response, error) {
	metrics.IncrementSubmission(resultRejected)
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode error body: %w", err)
	}
	return Response{StatusCode: http.StatusBadRequest, Body: raw}, nil
}

// emptyDocument reports whether a decoded body carries no content at all.
func emptyDocument(doc any) bool {
	switch v := doc.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	case bool:
		return !v
	default:
		return false
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/clusterq/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondErr maps a core error onto its HTTP status and API error code.
func respondErr(w http.ResponseWriter, reqID string, err error) {
	status, apiErr := classify(err)
	respondError(w, reqID, status, apiErr)
}

func classify(err error) (int, *model.APIError) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return statusOf(apiErr.Code), apiErr
	case errors.Is(err, model.ErrUnknownJob),
		errors.Is(err, model.ErrUnknownHost),
		errors.Is(err, model.ErrUnknownCommand):
		return http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: err.Error()}
	case errors.Is(err, model.ErrHostDecommissioned):
		return http.StatusGone, &model.APIError{Code: model.ErrGone, Message: err.Error()}
	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, model.ErrAlreadyTerminal):
		return http.StatusConflict, model.NewConflictError(err)
	}
	return http.StatusInternalServerError, model.NewInternalError(err.Error())
}

func statusOf(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict:
		return http.StatusConflict
	case model.ErrGone:
		return http.StatusGone
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// decodeBody decodes the JSON request body into v. It writes a 400 and
// returns false on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, reqID string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

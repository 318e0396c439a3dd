package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/me/foamrun/pkg/model"
)

// requestID generates a request identifier such as "req_1a2b3c4d".
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	writeEnvelope(w, http.StatusOK, model.NewResponse(reqID, data, nil))
}

func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	writeEnvelope(w, http.StatusOK, model.NewResponse(reqID, data, pg))
}

// respondError picks the HTTP status from the error code.
func respondError(w http.ResponseWriter, reqID string, apiErr *model.APIError) {
	writeEnvelope(w, apiErr.HTTPStatus(), model.NewErrorResponse(reqID, apiErr))
}

// respondStoreError logs a history store failure and reports it without
// leaking SQL details to the client.
func (s *Server) respondStoreError(w http.ResponseWriter, reqID string, op string, err error) {
	s.logger.Error("store failure", "op", op, "request_id", reqID, "error", err)
	respondError(w, reqID, &model.APIError{Code: model.ErrInternal, Message: op + " failed"})
}

func writeEnvelope(w http.ResponseWriter, status int, resp model.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Package httputil writes JSON responses and maps domain errors onto the
// XRPC error envelope {"error": Name, "message": text}.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// ErrorResponse is the XRPC error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding error cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates err into an HTTP status and XRPC error body.
// Errors without a domain code become a bare 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorResponse{
			Error:   DomainCodeToXRPCError(domainErr.Code),
			Message: domainErr.Message,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: DomainCodeToXRPCError(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToXRPCError translates domain error codes to XRPC error names.
func DomainCodeToXRPCError(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "NotFound"
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return "InvalidRequest"
	case dErrors.CodeConflict:
		return "Conflict"
	case dErrors.CodeUnauthorized:
		return "AuthRequired"
	case dErrors.CodeTimeout:
		return "UpstreamTimeout"
	case dErrors.CodeUnavailable:
		return "NotEnoughResources"
	default:
		return "InternalServerError"
	}
}

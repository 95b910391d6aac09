package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/service"
)

// Error codes produced by the API layer itself.
const (
	codeUnauthorized    = "UNAUTHORIZED"
	codePayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

var statusByCode = map[string]int{
	service.CodeInvalidArgument: http.StatusBadRequest,
	service.CodeNotFound:        http.StatusNotFound,
	service.CodeConflict:        http.StatusConflict,
	service.CodeInternal:        http.StatusInternalServerError,
}

// serviceErrorDetail maps err onto a status and envelope. Errors that are
// not a *service.ServiceError are reported as INTERNAL without their text.
func serviceErrorDetail(err error) (int, ErrorDetail) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError, ErrorDetail{Code: service.CodeInternal, Message: "internal server error"}
	}
	status, ok := statusByCode[svcErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, ErrorDetail{Code: svcErr.Code, Message: svcErr.Message}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, detail := serviceErrorDetail(err)
	writeError(w, status, detail)
}

// writeControllerError reports a failed operation on one controller, naming
// it in the envelope.
func writeControllerError(w http.ResponseWriter, id string, err error) {
	status, detail := serviceErrorDetail(err)
	detail.Controller = id
	writeError(w, status, detail)
}

func writeInvalid(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrorDetail{Code: service.CodeInvalidArgument, Message: message})
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeError(w, http.StatusRequestEntityTooLarge, ErrorDetail{
		Code:    codePayloadTooLarge,
		Message: fmt.Sprintf("request body too large (max %d bytes)", limit),
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrorDetail{Code: codeUnauthorized, Message: message})
}

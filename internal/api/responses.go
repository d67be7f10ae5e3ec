package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// ErrorDetails is the details object of a failed AnalysisResponse
type ErrorDetails struct {
	Type        string              `json:"type"`
	Code        string              `json:"code"`
	Details     string              `json:"details,omitempty"`
	Context     map[string]any      `json:"context,omitempty"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, r *http.Request, action string, data interface{}) {
	writeJSON(w, http.StatusOK, &models.AnalysisResponse{
		Success:   true,
		Action:    action,
		RequestID: RequestIDFromContext(r.Context()),
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError renders err with the status mapped from its type
func writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := errorStatus(err)
	response := &models.AnalysisResponse{
		Success:   false,
		Action:    action,
		RequestID: RequestIDFromContext(r.Context()),
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}

	if appErr, ok := errors.AsAppError(err); ok {
		response.Error = appErr.Message
		details := &ErrorDetails{
			Type:    string(appErr.Type),
			Code:    appErr.Code,
			Details: appErr.Details,
			Context: appErr.Context,
		}
		var multi *errors.MultiValidationError
		var single *errors.ValidationError
		switch {
		case stderrors.As(err, &multi):
			details.FieldErrors = multi.FieldErrors
		case stderrors.As(err, &single) && single.Field != "":
			details.FieldErrors = map[string][]string{single.Field: {single.Message}}
		}
		response.Details = details
	}

	writeJSON(w, status, response)
}

// errorStatus maps an error to its HTTP status. Missing stored results are
// 404 regardless of backend.
func errorStatus(err error) int {
	if appErr, ok := errors.AsAppError(err); ok && appErr.Code == "NOT_FOUND" {
		return http.StatusNotFound
	}
	return errors.GetHTTPStatus(err)
}

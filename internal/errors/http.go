// Package errors adapts engine errors to the HTTP error contract.
//
// Every error body has the same shape:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "details": {...}}}
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matiasb/jaime/pkg/archive"
	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/instance"
	"github.com/matiasb/jaime/pkg/staging"
)

// Stable error codes of the HTTP API.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeInvalidFilename   = "INVALID_FILENAME"
	CodeInvalidContent    = "INVALID_CONTENT"
	CodeWrongFileCount    = "WRONG_FILE_COUNT"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeExtractionFailed  = "EXTRACTION_FAILED"
	CodeRequestTooLarge   = "REQUEST_TOO_LARGE"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternal          = "INTERNAL"
)

// HTTPError is the error payload of one failed request.
type HTTPError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the envelope of every error body.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// Classify maps an engine error to a status code and payload.
func Classify(err error) (int, HTTPError) {
	var (
		invalidName    *instance.InvalidFilenameError
		wrongCount     *instance.WrongFileCountError
		invalidContent *staging.InvalidContentError
		extraction     *archive.ExtractionError
		tooLarge       *http.MaxBytesError
	)

	switch {
	case catalog.IsNotFound(err), instance.IsNotFound(err):
		return http.StatusNotFound, HTTPError{Code: CodeNotFound, Message: err.Error()}

	case errors.As(err, &invalidName):
		return http.StatusUnprocessableEntity, HTTPError{
			Code:    CodeInvalidFilename,
			Message: invalidName.Error(),
			Details: map[string]any{"filename": invalidName.Name},
		}

	case errors.As(err, &wrongCount):
		return http.StatusUnprocessableEntity, HTTPError{
			Code:    CodeWrongFileCount,
			Message: wrongCount.Error(),
			Details: map[string]any{"expected": wrongCount.Expected, "got": wrongCount.Got},
		}

	case errors.As(err, &invalidContent):
		return http.StatusUnprocessableEntity, HTTPError{
			Code:    CodeInvalidContent,
			Message: invalidContent.Error(),
			Details: map[string]any{"missing": invalidContent.Missing, "extra": invalidContent.Extra},
		}

	case archive.IsUnsupportedFormat(err):
		return http.StatusUnsupportedMediaType, HTTPError{
			Code:    CodeUnsupportedFormat,
			Message: "not a supported compressed file",
		}

	case errors.As(err, &extraction):
		return http.StatusUnprocessableEntity, HTTPError{
			Code:    CodeExtractionFailed,
			Message: extraction.Error(),
		}

	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, HTTPError{
			Code:    CodeRequestTooLarge,
			Message: "uploaded content too large",
		}

	default:
		return http.StatusInternalServerError, HTTPError{
			Code:    CodeInternal,
			Message: "internal error",
		}
	}
}

// RespondWithError writes the classified error to w.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := Classify(err)
	WriteError(w, status, payload)
}

// WriteError writes an explicit error payload to w.
func WriteError(w http.ResponseWriter, status int, payload HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: payload})
}

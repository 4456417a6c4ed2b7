package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// Error codes written in the "error" field of JSON error responses.
const (
	ErrCodeInvalidJSON  = "invalid_json"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeJobNotFound  = "job_not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
	ErrCodeInternal     = "internal_error"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
// Unknown fields are accepted so engine payloads can grow without breaking callbacks.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			err = errors.New("request body is empty")
		case errors.As(err, &maxErr):
			WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: ErrCodeInvalidInput, Err: err})
			return false
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: ErrCodeInvalidJSON, Err: err})
		return false
	}
	if dec.More() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: ErrCodeInvalidJSON,
			Err:     errors.New("request body must contain a single JSON document"),
		})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// ErrorResponse is the body of every JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, ErrorResponse{
		Error:   p.ErrCode,
		Message: p.Err.Error(),
		Field:   apperrors.GetField(p.Err),
	})
}

// WriteAppError maps err onto a status code and error code. Messages of
// unclassified and internal errors are not echoed to the client.
func WriteAppError(w http.ResponseWriter, err error) {
	status, code := StatusForError(err)
	if status == http.StatusInternalServerError {
		err = errors.New("internal server error")
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err})
}

// StatusForError returns the HTTP status and error code for err.
func StatusForError(err error) (int, string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, ErrCodeInvalidInput
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, ErrCodeJobNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict, ErrCodeConflict
	case apperrors.ErrCodeTransient, apperrors.ErrCodeCanceled:
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

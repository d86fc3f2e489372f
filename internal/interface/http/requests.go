package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type createTopicRequest struct {
	ID          string           `json:"id" validate:"omitempty,max=64"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	TargetAge   int              `json:"target_age" validate:"required,gte=3,lte=14"`
	CreatedBy   string           `json:"created_by" validate:"max=64"`
	Sections    []sectionRequest `json:"sections" validate:"required,min=1,max=50,dive"`
}

type sectionRequest struct {
	Title            string `json:"title" validate:"required,max=200"`
	Description      string `json:"description" validate:"max=2000"`
	EstimatedMinutes int    `json:"estimated_minutes" validate:"gte=0,lte=240"`
}

type sectionQuery struct {
	ChildID string `validate:"omitempty,max=64"`
	Age     int    `validate:"omitempty,gte=3,lte=14"`
}

type progressRequest struct {
	// At is when the action happened on the device. Omitted means now.
	At *time.Time `json:"at"`
}

type appendTransactionRequest struct {
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=200"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON body into dst and validates it. On failure the error
// response is already written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeBody(w, r, dst, true)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return true
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body is required")
		return false
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON", err.Error())
		return false
	}
	return s.validateRequest(w, dst)
}

func (s *Server) validateRequest(w http.ResponseWriter, v interface{}) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldMessage(fe))
	}
	writeJSONError(w, http.StatusBadRequest, "invalid_input", "Request validation failed", details...)
	return false
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps a domain error to a status code. Sequence violations are
// matched before validation errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "An unexpected error occurred"
	}
	writeJSONError(w, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case shared.IsSequenceViolation(err):
		return http.StatusConflict, "sequence_violation"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case shared.IsPersistenceFailure(err):
		return http.StatusServiceUnavailable, "persistence_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeModel         ErrorType = "model"
	ErrorTypeTraining      ErrorType = "training"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeJob           ErrorType = "job"
	ErrorTypeInternal      ErrorType = "internal"
)

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput  = "INVALID_INPUT"
	CodeMissingField  = "MISSING_FIELD"
	CodeInvalidFormat = "INVALID_FORMAT"
	CodeOutOfRange    = "OUT_OF_RANGE"

	// Model error codes
	CodeBadModelFile         = "BAD_MODEL_FILE"
	CodeArchitectureMismatch = "ARCHITECTURE_MISMATCH"
	CodeModelNotFound        = "MODEL_NOT_FOUND"
	CodeModelLoadFailed      = "MODEL_LOAD_FAILED"
	CodeModelSaveFailed      = "MODEL_SAVE_FAILED"
	CodeInsufficientData     = "INSUFFICIENT_DATA"
	CodeTrainingFailed       = "TRAINING_FAILED"

	// Storage error codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeDataNotFound     = "DATA_NOT_FOUND"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeStorageTimeout   = "STORAGE_TIMEOUT"

	// Job error codes
	CodeJobNotFound    = "JOB_NOT_FOUND"
	CodeUnknownJobType = "UNKNOWN_JOB_TYPE"
	CodeJobFailed      = "JOB_FAILED"
	CodeExecutorClosed = "EXECUTOR_CLOSED"
)

// Sentinel conditions. Compare with errors.Is; AppError.Is matches on type and code,
// so a wrapped or detailed copy still matches its sentinel.
var (
	ErrBadModelFile         = NewModelError(CodeBadModelFile, "bad model file")
	ErrArchitectureMismatch = NewModelError(CodeArchitectureMismatch, "model architecture mismatch")
	ErrModelNotFound        = NewModelError(CodeModelNotFound, "model not found")
	ErrInsufficientData     = NewTrainingError(CodeInsufficientData, "insufficient training data")
	ErrDataNotFound         = NewStorageError(CodeDataNotFound, "data not found")
	ErrInvalidConfiguration = NewAppError(ErrorTypeConfiguration, CodeInvalidConfig, "invalid configuration")
	ErrExecutorClosed       = NewAppError(ErrorTypeJob, CodeExecutorClosed, "executor closed")

	ErrConnectionFailed = errors.New("connection failed")
	ErrNetworkTimeout   = errors.New("network timeout")
	ErrStorageTimeout   = errors.New("storage operation timeout")
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s - %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext returns a copy of the error carrying an extra context value
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	c := e.clone()
	if c.Context == nil {
		c.Context = make(map[string]interface{})
	}
	c.Context[key] = value
	return c
}

// WithDetails returns a copy of the error with details set
func (e *AppError) WithDetails(details string) *AppError {
	c := e.clone()
	c.Details = details
	return c
}

// Wrap returns a copy of the error with cause attached
func (e *AppError) Wrap(cause error) *AppError {
	c := e.clone()
	c.Cause = cause
	c.Retryable = c.Retryable || isRetryable(cause)
	return c
}

func (e *AppError) clone() *AppError {
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewModelError creates a model error
func NewModelError(code, message string) *AppError {
	return NewAppError(ErrorTypeModel, code, message)
}

// NewTrainingError creates a training error
func NewTrainingError(code, message string) *AppError {
	return NewAppError(ErrorTypeTraining, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewNetworkError creates a network error
func NewNetworkError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       code,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 503,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  false,
		HTTPStatus: 500,
	}
}

// IsRetryable reports whether err, or anything it wraps, is marked retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return isRetryable(err)
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeStorage, ErrorTypeJob:
		return 404
	case ErrorTypeModel:
		return 422
	case ErrorTypeInternal, ErrorTypeTraining:
		return 500
	case ErrorTypeNetwork, ErrorTypeConfiguration:
		return 503
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNetworkTimeout):
		return true
	case errors.Is(err, ErrConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for the ops API
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	first := ve.Errors[0]
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("%s: %s %s", ve.Message, first.Field, first.Message)
	}
	return fmt.Sprintf("%s: %s %s (and %d more)", ve.Message, first.Field, first.Message, len(ve.Errors)-1)
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ErrOrNil returns ve when it holds errors, nil otherwise
func (ve *ValidationErrors) ErrOrNil() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "Validation failed",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/explain"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryNetwork       ErrorCategory = "network"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryInternal      ErrorCategory = "internal"
	CategoryExternalAPI   ErrorCategory = "external_api"
	CategoryContract      ErrorCategory = "contract"
	CategoryConfiguration ErrorCategory = "configuration"
)

// AppError wraps an errbuilder error with HTTP context
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// Error renders the error with a stable code prefix
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Category {
	case CategoryValidation:
		codeStr = "VALIDATION_ERROR"
	case CategoryNotFound:
		codeStr = "NOT_FOUND"
	case CategoryNetwork:
		codeStr = "NETWORK_ERROR"
	case CategoryTimeout:
		codeStr = "TIMEOUT_ERROR"
	case CategoryRateLimit:
		codeStr = "RATE_LIMIT_EXCEEDED"
	case CategoryExternalAPI:
		codeStr = "EXTERNAL_API_ERROR"
	case CategoryContract:
		codeStr = "ATTRIBUTION_CONTRACT_ERROR"
	case CategoryInternal:
		codeStr = "INTERNAL_ERROR"
	case CategoryConfiguration:
		codeStr = "CONFIGURATION_ERROR"
	}

	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// MarshalJSON renders the response body shape clients see
func (e *AppError) MarshalJSON() ([]byte, error) {
	var details map[string]string
	if n := len(e.ErrBuilder.Details.Errors); n > 0 {
		details = make(map[string]string, n)
		for key, err := range e.ErrBuilder.Details.Errors {
			if err != nil {
				details[key] = err.Error()
			}
		}
	}

	return json.Marshal(struct {
		Error      string            `json:"error"`
		Code       string            `json:"code"`
		Category   ErrorCategory     `json:"category"`
		HTTPStatus int               `json:"http_status"`
		Details    map[string]string `json:"details,omitempty"`
		Timestamp  time.Time         `json:"timestamp"`
		RequestID  string            `json:"request_id,omitempty"`
		StackTrace string            `json:"stack_trace,omitempty"`
	}{
		Error:      e.ErrBuilder.Msg,
		Code:       fmt.Sprint(e.ErrBuilder.ErrCode()),
		Category:   e.Category,
		HTTPStatus: e.HTTPStatus,
		Details:    details,
		Timestamp:  e.Timestamp,
		RequestID:  e.RequestID,
		StackTrace: e.StackTrace,
	})
}

// Detail returns one entry of the error map, or "" when absent
func (e *AppError) Detail(key string) string {
	if e.ErrBuilder.Details.Errors == nil {
		return ""
	}
	if err, ok := e.ErrBuilder.Details.Errors[key]; ok && err != nil {
		return err.Error()
	}
	return ""
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func withDetails(builder *errbuilder.ErrBuilder, details map[string]string) *errbuilder.ErrBuilder {
	if len(details) == 0 {
		return builder
	}
	errorMap := errbuilder.ErrorMap{}
	for key, value := range details {
		errorMap.Set(key, errors.New(value))
	}
	return builder.WithDetails(errbuilder.NewErrDetails(errorMap))
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error, details map[string]string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(withDetails(builder, details), CategoryValidation, http.StatusBadRequest)
}

// NewNotFoundError creates a not-found error for a missing resource
func NewNotFoundError(resource, id string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("%s not found", resource))

	return NewAppError(withDetails(builder, map[string]string{"id": id}), CategoryNotFound, http.StatusNotFound)
}

// NewNetworkError creates a network error
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryNetwork, http.StatusBadGateway)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter time.Duration) *AppError {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded")

	return NewAppError(withDetails(builder, map[string]string{"retry_after": strconv.Itoa(seconds)}), CategoryRateLimit, http.StatusTooManyRequests)
}

// NewExternalAPIError creates an error for a failing upstream service
func NewExternalAPIError(apiName string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s API error", apiName))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(withDetails(builder, map[string]string{"api_name": apiName}), CategoryExternalAPI, http.StatusBadGateway)
}

// NewContractError creates an error for attribution output that breaks the
// agreed shape or arithmetic.
func NewContractError(message string, cause error, details map[string]string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(withDetails(builder, details), CategoryContract, http.StatusBadGateway)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error")

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(withDetails(builder, map[string]string{"internal_details": message}), CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("Configuration error")

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(withDetails(builder, map[string]string{"config_details": message}), CategoryConfiguration, http.StatusInternalServerError)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that renders the last handler error
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			if appErr.RequestID == "" {
				appErr.RequestID = c.GetHeader("X-Request-ID")
			}

			LogError(c, appErr)

			if appErr.Category == CategoryRateLimit {
				if retry := appErr.Detail("retry_after"); retry != "" {
					c.Header("Retry-After", retry)
				}
			}
			c.JSON(appErr.HTTPStatus, appErr)
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
	})
}

// ToAppError converts any error to an AppError. Domain errors keep their
// offending feature or class in the error map.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mapped := fromSchemaError(err); mapped != nil {
		return mapped
	}
	if mapped := fromContractError(err); mapped != nil {
		return mapped
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	var ebErr *errbuilder.ErrBuilder
	if errors.As(err, &ebErr) {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewNetworkError("Network connection failed", err)
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return NewTimeoutError("Request timeout", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

func fromSchemaError(err error) *AppError {
	var missing *schema.MissingFeatureError
	var unknown *schema.UnknownFeatureError
	var category *schema.InvalidCategoryError
	var domain *schema.DomainViolationError

	switch {
	case errors.As(err, &missing):
		return NewValidationError("Missing feature", err, map[string]string{
			"feature": missing.Feature,
		})
	case errors.As(err, &unknown):
		return NewValidationError("Unknown feature", err, map[string]string{
			"feature": unknown.Feature,
		})
	case errors.As(err, &category):
		return NewValidationError("Invalid category", err, map[string]string{
			"feature": category.Feature,
			"value":   fmt.Sprintf("%v", category.Value),
			"allowed": strings.Join(category.Allowed, ", "),
		})
	case errors.As(err, &domain):
		return NewValidationError("Value out of domain", err, map[string]string{
			"feature":    domain.Feature,
			"value":      fmt.Sprintf("%v", domain.Value),
			"constraint": domain.Constraint,
		})
	}
	return nil
}

func fromContractError(err error) *AppError {
	var shape *decision.ShapeMismatchError
	var nonFinite *decision.NonFiniteAttributionError
	var nonFiniteOutput *decision.NonFiniteOutputError
	var additivity *decision.AdditivityError
	var empty *explain.EmptyAttributionError

	switch {
	case errors.As(err, &shape):
		return NewContractError("Attribution shape mismatch", err, map[string]string{
			"what":     shape.What,
			"class":    strconv.Itoa(shape.Class),
			"expected": strconv.Itoa(shape.Expected),
			"actual":   strconv.Itoa(shape.Actual),
		})
	case errors.As(err, &nonFinite):
		return NewContractError("Non-finite attribution", err, map[string]string{
			"class":   strconv.Itoa(nonFinite.Class),
			"feature": strconv.Itoa(nonFinite.Feature),
		})
	case errors.As(err, &nonFiniteOutput):
		return NewContractError("Non-finite model output", err, map[string]string{
			"output": nonFiniteOutput.Output,
			"class":  strconv.Itoa(nonFiniteOutput.Class),
		})
	case errors.As(err, &additivity):
		return NewContractError("Attribution does not reconstruct model margin", err, map[string]string{
			"class":  strconv.Itoa(additivity.Class),
			"score":  strconv.FormatFloat(additivity.Score, 'g', -1, 64),
			"margin": strconv.FormatFloat(additivity.Margin, 'g', -1, 64),
		})
	case errors.As(err, &empty):
		return NewContractError("Empty attribution", err, map[string]string{
			"class": strconv.Itoa(empty.Class),
		})
	case errors.Is(err, attribution.ErrMalformedResponse):
		return NewContractError("Malformed attribution response", err, nil)
	}
	return nil
}

// LogError logs an error with a level chosen by category
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetHeader("X-Request-ID"),
	)

	errorMsg := err.ErrBuilder.Msg
	details := err.ErrBuilder.Details.Errors

	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryNotFound:
		if len(details) > 0 {
			logEntry.Warn(errorMsg, "details", details)
		} else {
			logEntry.Warn(errorMsg)
		}
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(errorMsg, "cause", cause)
		} else {
			logEntry.Info(errorMsg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause, "details", details)
		} else {
			logEntry.Error(errorMsg, "details", details)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// IsRetryableError checks if an error should trigger a retry. Contract
// errors are not retried: the same record yields the same attribution.
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)

	switch appErr.Category {
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI, CategoryRateLimit:
		return true
	default:
		return false
	}
}

// SafeClose closes a resource and logs any error
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}

// SafeExecute runs fn and recovers from panics
func SafeExecute(fn func(), panicHandler func(any)) {
	defer func() {
		if r := recover(); r != nil {
			if panicHandler != nil {
				panicHandler(r)
			} else {
				slog.Error("Panic in safe execution", "panic", r)
			}
		}
	}()

	fn()
}

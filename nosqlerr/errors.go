// Package nosqlerr defines the typed error hierarchy returned by the
// execution engine. Server-signalled failures are mapped from numeric
// protocol codes to one of these types; callers are expected to use
// errors.As to recover the concrete kind when they need to branch on it.
package nosqlerr

import "fmt"

// NoSQLException is the root of the server-error hierarchy: every error
// mapped from a wire code either is one, or embeds one.
// IllegalArgumentException and RequestTimeoutException are separate types
// that do not embed it.
type NoSQLException struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func New(code ErrorCode, message string) *NoSQLException {
	return &NoSQLException{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, cause error) *NoSQLException {
	return &NoSQLException{Code: code, Message: message, Cause: cause}
}

func (e *NoSQLException) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *NoSQLException) Unwrap() error { return e.Cause }

// RetryableException marks a NoSQLException as safe for the retry
// controller to retry, subject to the deadline.
type RetryableException struct {
	*NoSQLException
}

func Retryable(code ErrorCode, message string) *RetryableException {
	return &RetryableException{New(code, message)}
}

// WriteThrottlingException signals the server rejected the request because
// the table's write-unit budget is exhausted.
type WriteThrottlingException struct {
	*RetryableException
}

func NewWriteThrottlingException(message string) *WriteThrottlingException {
	return &WriteThrottlingException{Retryable(CodeWriteLimitExceeded, message)}
}

// ReadThrottlingException is the read-side counterpart of
// WriteThrottlingException.
type ReadThrottlingException struct {
	*RetryableException
}

func NewReadThrottlingException(message string) *ReadThrottlingException {
	return &ReadThrottlingException{Retryable(CodeReadLimitExceeded, message)}
}

// SecurityInfoNotReadyException signals the server-side security subsystem
// has not finished initializing; the caller should back off and retry.
type SecurityInfoNotReadyException struct {
	*RetryableException
}

func NewSecurityInfoNotReadyException(message string) *SecurityInfoNotReadyException {
	return &SecurityInfoNotReadyException{Retryable(CodeSecurityInfoUnavailable, message)}
}

// AuthenticationException signals the auth token was rejected. On-prem
// authentication providers may recover by re-bootstrapping the login; cloud
// providers treat it as terminal.
type AuthenticationException struct {
	*NoSQLException
}

func NewAuthenticationException(message string) *AuthenticationException {
	return &AuthenticationException{New(CodeInvalidAuthorization, message)}
}

// TableNotFoundException is a terminal, non-retryable server error.
type TableNotFoundException struct {
	*NoSQLException
}

func NewTableNotFoundException(tableName string) *TableNotFoundException {
	return &TableNotFoundException{New(CodeTableNotFound, fmt.Sprintf("table not found: %s", tableName))}
}

// RequestSizeLimitException is thrown before any network send when the
// encoded request exceeds the configured or protocol-internal size limit.
// It is terminal and is never retried.
type RequestSizeLimitException struct {
	*NoSQLException
}

func NewRequestSizeLimitException(requestSize, limit int) *RequestSizeLimitException {
	return &RequestSizeLimitException{New(CodeRequestSizeLimitExceeded,
		fmt.Sprintf("request size of %d exceeds the limit of %d", requestSize, limit))}
}

// IllegalArgumentException represents a caller-input error. It is never
// retried and is always rethrown unchanged.
type IllegalArgumentException struct {
	Message string
}

func (e *IllegalArgumentException) Error() string { return "IllegalArgumentException: " + e.Message }

func NewIllegalArgumentException(format string, args ...any) *IllegalArgumentException {
	return &IllegalArgumentException{Message: fmt.Sprintf(format, args...)}
}

// RequestTimeoutException is thrown when the per-request timeout budget is
// exhausted without a successful response. Cause is the last exception
// observed in the loop, and Error() embeds the retry count for post-mortem
// reporting.
type RequestTimeoutException struct {
	TimeoutMs  int
	NumRetries int
	Cause      error
}

func (e *RequestTimeoutException) Error() string {
	return fmt.Sprintf("Request timed out after %dms and %d retries, cause: %v",
		e.TimeoutMs, e.NumRetries, e.Cause)
}

func (e *RequestTimeoutException) Unwrap() error { return e.Cause }

func NewRequestTimeoutException(timeoutMs, numRetries int, cause error) *RequestTimeoutException {
	return &RequestTimeoutException{TimeoutMs: timeoutMs, NumRetries: numRetries, Cause: cause}
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrUnimplemented     = fmt.Errorf("capability not implemented by backend")
	ErrProviderNotFound  = fmt.Errorf("provider not found")
	ErrProviderError     = fmt.Errorf("provider error")
	ErrEmptyResponse     = fmt.Errorf("provider returned no choices")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrContextOverflow   = fmt.Errorf("context window exceeded")
	ErrMemoryStore       = fmt.Errorf("memory store failed")
	ErrMemoryLoad        = fmt.Errorf("memory load failed")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrMissingCredential = fmt.Errorf("missing credential")
	ErrInvalidInput      = fmt.Errorf("invalid input")
	ErrPersonaLoad       = fmt.Errorf("persona load failed")
	ErrEncryption        = fmt.Errorf("encryption operation failed")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrSessionNotFound   = fmt.Errorf("session not found")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "RedisStore.AddMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for logs and monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeUnimplemented     ErrorCode = "UNIMPLEMENTED"
	CodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeEmptyResponse     ErrorCode = "EMPTY_RESPONSE"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeMemoryStore       ErrorCode = "MEMORY_STORE"
	CodeMemoryLoad        ErrorCode = "MEMORY_LOAD"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodePersonaLoad       ErrorCode = "PERSONA_LOAD"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnimplemented:     CodeUnimplemented,
	ErrProviderNotFound:  CodeProviderNotFound,
	ErrProviderError:     CodeProviderError,
	ErrEmptyResponse:     CodeEmptyResponse,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrContextOverflow:   CodeContextOverflow,
	ErrMemoryStore:       CodeMemoryStore,
	ErrMemoryLoad:        CodeMemoryLoad,
	ErrConfigLoad:        CodeConfigLoad,
	ErrMissingCredential: CodeMissingCredential,
	ErrInvalidInput:      CodeInvalidInput,
	ErrPersonaLoad:       CodePersonaLoad,
	ErrEncryption:        CodeEncryption,
	ErrDecryption:        CodeDecryption,
	ErrSessionNotFound:   CodeSessionNotFound,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

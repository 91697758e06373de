// Package errors is the typed error taxonomy shared by the services and the
// HTTP layer. A Code fixes the status and retry semantics; a Reason narrows
// the failure for clients that branch on it.
package errors

import (
	stdErrors "errors"
	"net/http"
	"strings"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeIntegrity     Code = "INTEGRITY_VIOLATION"
)

// Reason values appear in the public envelope; renaming one breaks clients.
type Reason string

// Catalog and stock.
const (
	ReasonOutOfStock              Reason = "OUT_OF_STOCK"
	ReasonProductUnavailable      Reason = "PRODUCT_UNAVAILABLE"
	ReasonConcurrentStockConflict Reason = "CONCURRENT_STOCK_CONFLICT"
)

// Orders and payments.
const (
	ReasonOrderNotFound          Reason = "ORDER_NOT_FOUND"
	ReasonInvalidOrderState      Reason = "INVALID_ORDER_STATE"
	ReasonInvalidStateTransition Reason = "INVALID_STATE_TRANSITION"
	ReasonInvalidSignature       Reason = "INVALID_SIGNATURE"
	ReasonMalformedEvent         Reason = "MALFORMED_EVENT"
	ReasonTokenExpired           Reason = "TOKEN_EXPIRED"
)

// Settlement.
const (
	ReasonPayoutNotEligible    Reason = "PAYOUT_NOT_ELIGIBLE"
	ReasonVendorNotPayoutReady Reason = "VENDOR_NOT_PAYOUT_READY"
	ReasonAmountMismatch       Reason = "AMOUNT_MISMATCH"
	ReasonDoubleCoveredPayout  Reason = "DOUBLE_COVERED_PAYOUT"
)

// Infrastructure.
const (
	ReasonLockTimeout      Reason = "LOCK_TIMEOUT"
	ReasonProcessorTimeout Reason = "PROCESSOR_TIMEOUT"
)

// Metadata is how a Code renders over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:     {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	// Integrity failures mean a reconciliation check tripped; replaying the
	// request cannot fix them.
	CodeIntegrity: {HTTPStatus: http.StatusInternalServerError, PublicMessage: "integrity violation"},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error. The builder methods mutate and return the
// receiver so call sites can chain them on New or Wrap.
type Error struct {
	code    Code
	reason  Reason
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap keeps err reachable through errors.Is and errors.As.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) WithReason(reason Reason) *Error {
	if e != nil {
		e.reason = reason
	}
	return e
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Reason() Reason {
	if e == nil {
		return ""
	}
	return e.reason
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.code))
	if e.reason != "" {
		b.WriteString("/" + string(e.reason))
	}
	b.WriteString(": " + e.message)
	if e.cause != nil {
		b.WriteString(": " + e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf is CodeInternal for untyped errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code()
}

// HasReason looks at every typed error in the chain, not just the outermost.
func HasReason(err error, reason Reason) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.reason == reason {
			return true
		}
	}
	return false
}

// IsRetryable treats untyped errors as internal, which are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}

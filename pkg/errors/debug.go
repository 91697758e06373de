package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE classes the API reacts to.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// constraintErrors maps schema constraints to the error a caller should see
// when a write trips them. Anything unlisted stays an internal error.
var constraintErrors = map[string]func() *Error{
	"ux_payment_intents_active_order": func() *Error {
		return New(CodeConflict, "a checkout session is already open for this order").WithReason(ReasonInvalidOrderState)
	},
	"payout_items_pkey": func() *Error {
		return New(CodeIntegrity, "order item already covered by this payout").WithReason(ReasonDoubleCoveredPayout)
	},
	"orders_total_reconciles": func() *Error {
		return New(CodeIntegrity, "order totals do not reconcile").WithReason(ReasonAmountMismatch)
	},
	"order_items_subtotal_reconciles": func() *Error {
		return New(CodeIntegrity, "order item subtotal does not reconcile").WithReason(ReasonAmountMismatch)
	},
	"payouts_amount_reconciles": func() *Error {
		return New(CodeIntegrity, "payout amount does not reconcile").WithReason(ReasonAmountMismatch)
	},
}

// PGError is the driver-neutral view of a Postgres error.
type PGError struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// AsPG extracts a Postgres error raised through pgx or lib/pq.
func AsPG(err error) (PGError, bool) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return PGError{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return PGError{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PGError{}, false
}

// FromDatabase converts a raw Postgres error into a typed *Error, or returns
// nil when err is not a Postgres error. Typed errors pass through unchanged.
func FromDatabase(err error) *Error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return typed
	}
	pg, ok := AsPG(err)
	if !ok {
		return nil
	}
	if build, known := constraintErrors[pg.Constraint]; known {
		mapped := build()
		mapped.cause = err
		return mapped
	}
	switch pg.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return Wrap(CodeDependency, err, "database contention, retry the request").WithReason(ReasonLockTimeout)
	case pgUniqueViolation:
		return Wrap(CodeConflict, err, "resource already exists")
	case pgForeignKeyViolation:
		return Wrap(CodeValidation, err, "referenced resource does not exist")
	case pgCheckViolation:
		return Wrap(CodeIntegrity, err, fmt.Sprintf("constraint %s violated", pg.Constraint))
	}
	return nil
}

// IsTransient reports whether err is a Postgres serialization failure or
// deadlock, after which the whole transaction may be replayed.
func IsTransient(err error) bool {
	pg, ok := AsPG(err)
	return ok && (pg.Code == pgSerializationFailure || pg.Code == pgDeadlockDetected)
}

// ErrorDump flattens an error for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Reason     Reason   `json:"reason,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	PG         *PGError `json:"pg,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code, d.Reason = typed.Code(), typed.Reason()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if pg, ok := AsPG(err); ok {
		d.PG = &pg
	}
	return d
}

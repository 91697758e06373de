package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the public error envelope. Untyped Postgres
// errors are first mapped through the schema's known constraints; anything
// still untyped becomes a 500 with no detail.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("handler reported failure without an error")
	}
	typed := pkgerrors.FromDatabase(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:    string(typed.Code()),
		Reason:  string(typed.Reason()),
		Message: publicMessage(typed, meta),
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}
	if meta.Retryable && meta.HTTPStatus != http.StatusInternalServerError {
		w.Header().Set("Retry-After", "1")
	}

	logError(ctx, logg, err, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr, RequestID: logger.RequestIDFrom(ctx)})
}

// publicMessage hides internal wording behind the code's generic message;
// client errors and dependency outages keep theirs since callers act on them.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	exposed := meta.HTTPStatus < http.StatusInternalServerError || typed.Code() == pkgerrors.CodeDependency
	if exposed && typed.Message() != "" {
		return typed.Message()
	}
	return meta.PublicMessage
}

func logError(ctx context.Context, logg *logger.Logger, err error, status int) {
	if logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"status":       status,
		"error_code":   dump.Code,
		"error_reason": dump.Reason,
		"error_chain":  dump.Chain,
	}
	if dump.PG != nil {
		fields["pg_code"] = dump.PG.Code
		fields["pg_constraint"] = dump.PG.Constraint
		fields["pg_detail"] = dump.PG.Detail
	}
	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request failed", err)
		return
	}
	logg.Warn(logg.WithField(ctx, "error", dump.TopMessage), "request rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("response encoding failed")
	}
}

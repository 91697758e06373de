package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// MaxBodyBytes caps request bodies. Order payloads are small even with many
// lines.
const MaxBodyBytes = 1 << 20

var validate = buildValidator()

func buildValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	v.RegisterValidation("item_status", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseOrderItemStatus(fl.Field().String())
		return err == nil
	})
	return v
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// DecodeJSONBody reads exactly one JSON object into dest and validates it.
// Unknown fields, trailing data and bodies over MaxBodyBytes are rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer io.Copy(io.Discard, body)

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must hold a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return fieldErrors(err)
	}
	return nil
}

// decodeError names the offending field or offset where the decoder allows.
func decodeError(err error) *pkgerrors.Error {
	var (
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
		tooLarge *http.MaxBytesError
	)
	detail := map[string]any{}
	msg := "invalid request body"
	switch {
	case errors.Is(err, io.EOF):
		msg = "request body is empty"
	case errors.As(err, &tooLarge):
		msg = fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	case errors.As(err, &syntax):
		detail["offset"] = syntax.Offset
	case errors.As(err, &mismatch):
		detail[mismatch.Field] = "must be a " + mismatch.Type.String()
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		detail[strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)] = "is not a known field"
	}
	typed := pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	if len(detail) > 0 {
		typed = typed.WithDetails(detail)
	}
	return typed
}

func fieldErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fieldPath(fe)] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

// fieldPath drops the root struct name: lines[1].quantity, not
// createOrderRequest.lines[1].quantity.
func fieldPath(fe validator.FieldError) string {
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + p
	case "max", "lte":
		return "must be at most " + p
	case "gt":
		return "must be greater than " + p
	case "oneof":
		return "must be one of [" + p + "]"
	case "uuid", "uuid4":
		return "must be a valid uuid"
	case "item_status":
		return "is not a fulfillment status"
	}
	return "is invalid"
}

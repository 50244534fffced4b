// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeGuardTimeout Code = "guard.deadline.timeout"

	CodeBreakerOpen          Code = "breaker.admission.open"
	CodeBreakerConfigInvalid Code = "breaker.config.invalid_value"
	CodeBreakerUnknown       Code = "breaker.registry.not_found"

	CodeCacheTierUnavailable Code = "cache.tier.unavailable"

	CodeStoreUnavailable   Code = "store.database.unavailable"
	CodeStoreQueryFailure  Code = "store.query.failure"
	CodeStoreNotFound      Code = "store.artifact.get.not_found"
	CodeStoreInvalidInput  Code = "store.artifact.put.invalid_input"
	CodeStoreOpenFailure   Code = "store.open.failure"
	CodeStoreVectorInvalid Code = "store.vector.invalid_input"

	CodeWorkerStartFailure    Code = "worker.process.start.failure"
	CodeWorkerCallFailure     Code = "worker.process.call.failure"
	CodeWorkerProtocolInvalid Code = "worker.protocol.invalid_format"
	CodeWorkerKindUnknown     Code = "worker.registry.not_found"
	CodeWorkerUnavailable     Code = "worker.process.unavailable"
	CodeWorkerManifestInvalid Code = "worker.manifest.invalid_format"

	CodeEmbedRequestInvalid  Code = "embed.request.invalid_input"
	CodeEmbedUpstreamFailure Code = "embed.upstream.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldBreaker(value string) Attr {
	return Field("breaker", value)
}

func FieldWorkerKind(value string) Attr {
	return Field("worker_kind", value)
}

func FieldCacheTier(value string) Attr {
	return Field("cache_tier", value)
}

func FieldOperation(value string) Attr {
	return Field("operation", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsTimeout reports whether err is a deadline timeout from a guard.
func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsCircuitOpen reports whether err is a fast-fail rejection from an
// open circuit breaker.
func IsCircuitOpen(err error) bool {
	return HasCode(err, CodeBreakerOpen)
}

// IsUnavailable reports whether err marks a dependency as unreachable.
func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

// IsStoreUnavailable reports the one fatal condition in the core: the
// durable store, which has no deeper fallback, cannot be reached.
func IsStoreUnavailable(err error) bool {
	return HasCode(err, CodeStoreUnavailable)
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsCircuitOpen(err), IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindUpstreamAuth     ErrorKind = "upstream_auth"
	KindUpstreamRejected ErrorKind = "upstream_rejected"
	KindTransport        ErrorKind = "transport"
	KindInternal         ErrorKind = "internal"
)

// GatewayError carries a failure of one gateway operation together with
// whatever the provider returned.
type GatewayError struct {
	Kind    ErrorKind
	Gateway string
	Op      string
	Message string
	// Code is a provider or adapter specific error code, e.g. LOCATION_NOT_FOUND.
	Code string
	// Fields lists the missing or invalid input fields for validation errors.
	Fields []string
	// UpstreamStatus and Body hold the provider's reply, when there was one.
	UpstreamStatus int
	Body           []byte
	Timeout        bool
	Err            error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	if e.Gateway != "" {
		b.WriteString(e.Gateway)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.UpstreamStatus != 0 {
		fmt.Fprintf(&b, " (status %d)", e.UpstreamStatus)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to the status returned to API callers.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamAuth:
		return http.StatusBadGateway
	case KindUpstreamRejected:
		if e.UpstreamStatus >= 500 {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case KindTransport:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsGatewayError unwraps err into a *GatewayError.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsKind reports whether err is a GatewayError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	gwErr, ok := AsGatewayError(err)
	return ok && gwErr.Kind == kind
}

func validationError(gateway, message string, fields ...string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Gateway: gateway, Message: message, Fields: fields}
}

func missingFieldsError(gateway, what string, fields []string) *GatewayError {
	return validationError(gateway, fmt.Sprintf("missing required %s: %s", what, strings.Join(fields, ", ")), fields...)
}

// withCode sets Code and returns e.
func (e *GatewayError) withCode(code string) *GatewayError {
	e.Code = code
	return e
}

func internalError(gateway, op string, err error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Gateway: gateway, Op: op, Message: "unexpected failure", Err: err}
}

func transportError(gateway, op string, err error) *GatewayError {
	gwErr := &GatewayError{Kind: KindTransport, Gateway: gateway, Op: op, Message: "gateway unreachable", Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		gwErr.Timeout = true
		gwErr.Message = "gateway request timed out"
	}
	return gwErr
}

// upstreamError builds the error for a non-2xx provider reply, keeping the
// body verbatim.
func upstreamError(gateway, op string, resp *upstreamResponse, message string) *GatewayError {
	kind := KindUpstreamRejected
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		kind = KindUpstreamAuth
	}
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", resp.Status)
	}
	return &GatewayError{
		Kind:           kind,
		Gateway:        gateway,
		Op:             op,
		Message:        message,
		UpstreamStatus: resp.Status,
		Body:           resp.Body,
	}
}

// Package gwerr defines the gateway's internal error taxonomy (spec §7) and
// the single, total conversion from an internal error to a wire-facing
// protocol.Error.
package gwerr

import (
	"fmt"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// Kind is the closed enum of internal error categories. Every Kind must have
// exactly one entry in codeTable; ToWireError panics on an unmapped Kind so a
// missing mapping fails loudly in tests rather than silently degrading to
// "internal error" at runtime undetected.
type Kind string

const (
	KindConfig         Kind = "config"
	KindRegistry       Kind = "registry"
	KindMCP            Kind = "mcp"
	KindRouting        Kind = "routing"
	KindToolExecution  Kind = "tool_execution"
	KindAuth           Kind = "auth"
	KindValidation     Kind = "validation"
	KindIO             Kind = "io"
	KindSerde          Kind = "serde"
	KindYAML           Kind = "yaml"
	KindHTTP           Kind = "http"
	KindJSONSchema     Kind = "json_schema"
	KindConnection     Kind = "connection"
	KindInternal       Kind = "internal"
	KindParse          Kind = "parse"
	KindInvalidRequest Kind = "invalid_request"
	KindMethodNotFound Kind = "method_not_found"
	KindInvalidParams  Kind = "invalid_params"
	KindToolNotFound   Kind = "tool_not_found"
	KindToolDisabled   Kind = "tool_disabled"
	KindResourceError  Kind = "resource"
	KindPromptError    Kind = "prompt"
	KindRateLimited    Kind = "rate_limited"
	KindUnavailable    Kind = "service_unavailable"
	KindTimeout        Kind = "timeout"
	KindNotFound       Kind = "not_found"
)

// Error is the internal error type carried through the gateway. It is always
// convertible to exactly one wire protocol.Error via ToWireError.
type Error struct {
	Kind    Kind
	Tool    string // set only for KindToolExecution
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, preserving cause for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewToolExecutionError builds a KindToolExecution error tagged with the
// failing tool's name.
func NewToolExecutionError(tool, format string, args ...any) *Error {
	return &Error{Kind: KindToolExecution, Tool: tool, Message: fmt.Sprintf(format, args...)}
}

var codeTable = map[Kind]int32{
	KindParse:          protocol.CodeParseError,
	KindInvalidRequest: protocol.CodeInvalidRequest,
	KindMethodNotFound: protocol.CodeMethodNotFound,
	KindInvalidParams:  protocol.CodeInvalidParams,
	KindInternal:       protocol.CodeInternal,

	KindToolNotFound:  protocol.CodeToolNotFound,
	KindToolExecution: protocol.CodeToolExecutionFailed,
	KindResourceError: protocol.CodeResourceNotFound,
	KindPromptError:   protocol.CodePromptNotFound,
	KindAuth:          protocol.CodeAuthFailed,
	KindConfig:        protocol.CodeConfigError,
	KindValidation:    protocol.CodeValidationFailed,
	KindRateLimited:   protocol.CodeRateLimited,
	KindUnavailable:   protocol.CodeServiceUnavailable,
	KindTimeout:       protocol.CodeTimeout,
	KindConnection:    protocol.CodeNetworkError,
	KindSerde:         protocol.CodeSerializationError,
	KindYAML:          protocol.CodeSerializationError,
	KindJSONSchema:    protocol.CodeSerializationError,
	KindToolDisabled:  protocol.CodeToolDisabled,
	KindNotFound:      protocol.CodeNotFound,
	KindRegistry:      protocol.CodeInternalBackend,
	KindMCP:           protocol.CodeInternalBackend,
	KindRouting:       protocol.CodeInternalBackend,
	KindIO:            protocol.CodeInternalBackend,
	KindHTTP:          protocol.CodeNetworkError,
}

// ToWireError converts any error into a wire protocol.Error. Internal *Error
// values are mapped exactly per codeTable; any other error (including a
// recovered panic's message) maps to CodeInternal with a generic message —
// detail is only attached, via Data, when exposeDetail is true (non-strict
// configuration).
func ToWireError(err error, exposeDetail bool) *protocol.Error {
	if err == nil {
		return nil
	}
	if ie, ok := asError(err); ok {
		code, known := codeTable[ie.Kind]
		if !known {
			panic(fmt.Sprintf("gwerr: unmapped error kind %q — add it to codeTable", ie.Kind))
		}
		wire := &protocol.Error{Code: code, Message: ie.Message}
		if exposeDetail && ie.Cause != nil {
			wire.Data = ie.Cause.Error()
		}
		return wire
	}
	wire := &protocol.Error{Code: protocol.CodeInternal, Message: "internal error"}
	if exposeDetail {
		wire.Data = err.Error()
	}
	return wire
}

func asError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

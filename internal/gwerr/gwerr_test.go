package gwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allKinds must be kept in sync with the const block in gwerr.go; this test
// exists precisely so that forgetting to add a new Kind to codeTable is
// caught here instead of surfacing as a panic deep in a request handler.
var allKinds = []Kind{
	KindConfig, KindRegistry, KindMCP, KindRouting, KindToolExecution, KindAuth,
	KindValidation, KindIO, KindSerde, KindYAML, KindHTTP, KindJSONSchema,
	KindConnection, KindInternal, KindParse, KindInvalidRequest, KindMethodNotFound,
	KindInvalidParams, KindToolNotFound, KindToolDisabled, KindResourceError,
	KindPromptError, KindRateLimited, KindUnavailable, KindTimeout, KindNotFound,
}

func TestToWireError_EveryKindMapped(t *testing.T) {
	for _, k := range allKinds {
		k := k
		t.Run(string(k), func(t *testing.T) {
			require.NotPanics(t, func() {
				wire := ToWireError(New(k, "boom"), false)
				assert.NotZero(t, wire.Code)
			})
		})
	}
}

func TestToWireError_NonInternalErrorMapsToInternal(t *testing.T) {
	wire := ToWireError(errors.New("plain"), false)
	assert.Equal(t, int32(-32603), wire.Code)
	assert.Nil(t, wire.Data, "detail must not leak when exposeDetail is false")

	wire = ToWireError(errors.New("plain"), true)
	assert.Equal(t, "plain", wire.Data)
}

func TestToWireError_CauseSurfacedOnlyWhenExposed(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindConnection, cause, "dial failed")

	wire := ToWireError(err, false)
	assert.Nil(t, wire.Data)

	wire = ToWireError(err, true)
	assert.Equal(t, "root cause", wire.Data)
}

func TestToolExecutionError_CarriesToolName(t *testing.T) {
	err := NewToolExecutionError("echo", "exit code %d", 1)
	assert.Contains(t, err.Error(), "echo")
	assert.Equal(t, "echo", err.Tool)
}

func TestToWireError_Nil(t *testing.T) {
	assert.Nil(t, ToWireError(nil, false))
}

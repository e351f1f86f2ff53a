package dispatcher

import (
	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// wrapValidation maps the Kind string on a *protocol.ValidationError onto the
// matching gwerr.Kind, so the rest of the dispatcher only ever deals in
// *gwerr.Error. protocol can't import gwerr itself (gwerr imports protocol
// for the wire Error type), hence the string-keyed Kind on ValidationError.
func wrapValidation(err error) error {
	ve, ok := err.(*protocol.ValidationError)
	if !ok {
		return err
	}
	kind := gwerr.KindInvalidRequest
	switch ve.Kind {
	case "parse":
		kind = gwerr.KindParse
	case "invalid_request":
		kind = gwerr.KindInvalidRequest
	case "method_not_found":
		kind = gwerr.KindMethodNotFound
	case "invalid_params":
		kind = gwerr.KindInvalidParams
	}
	return gwerr.New(kind, "%s", ve.Message)
}

// errorResponse converts any error into a JSON-RPC error response, applying
// the gateway's detail-exposure policy (spec §7: "detail leaks only via data
// under non-strict configuration").
func errorResponse(id protocol.ID, err error, exposeDetail bool) *protocol.Response {
	return protocol.NewErrorResponse(id, gwerr.ToWireError(err, exposeDetail))
}

package protocol

import (
	"context"
	"time"

	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
)

// RequestHandler handles a message initiated by the server, such as ping or
// notifications/tools/list_changed.
//
// For requests the returned value becomes the result; a returned
// *jsonrpc.Error is sent as-is and any other error becomes an internal error.
// For notifications the return values are ignored.
type RequestHandler func(ctx context.Context, msg *jsonrpc.Message) (any, error)

// outcome is what a waiter receives: exactly one of resp or err is set.
type outcome struct {
	resp *jsonrpc.Message
	err  error
}

// pendingRequest tracks an outgoing request awaiting response.
type pendingRequest struct {
	method   string
	response chan outcome
	deadline time.Time
}

// cancelledParams is the payload of notifications/cancelled.
type cancelledParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version spoken.
const Version = "2.0"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Method names used by the tool protocol.
const (
	MethodInitialize       = "initialize"
	MethodInitialized      = "notifications/initialized"
	MethodPing             = "ping"
	MethodToolsList        = "tools/list"
	MethodToolsCall        = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"
	MethodCancelled        = "notifications/cancelled"
)

// Message is any JSON-RPC 2.0 message: request, notification or response.
// ID is a string or a number; it is nil for notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether m expects a response.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m is a one-way message.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether m answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IDString returns the id as a correlation key. Numeric ids are rendered in
// their JSON form, so 7 and "7" are distinct only by type.
func (m *Message) IDString() string {
	switch id := m.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// Error is the error member of a response. It implements error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// errorData is the structured data member toolbridge servers attach.
type errorData struct {
	Kind string `json:"kind"`
}

// Kind returns the failure kind carried in Data, if any.
func (e *Error) Kind() string {
	if len(e.Data) == 0 {
		return ""
	}

	var data errorData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}

	return data.Kind
}

// NewRequest builds a request with marshalled params.
func NewRequest(id any, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification with marshalled params.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success response. A nil result is sent as {}.
func NewResult(id any, result any) (*Message, error) {
	raw := json.RawMessage(`{}`)

	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}

		raw = data
	}

	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response. A non-empty kind is attached as
// {"kind": kind} in the data member.
func NewError(id any, code int, message string, kind string) *Message {
	e := &Error{Code: code, Message: message}

	if kind != "" {
		// A struct with a single string field cannot fail to marshal.
		e.Data, _ = json.Marshal(errorData{Kind: kind})
	}

	return &Message{JSONRPC: Version, ID: id, Error: e}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}

	return json.Marshal(params)
}

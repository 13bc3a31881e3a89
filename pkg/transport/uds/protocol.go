package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

var seq atomic.Uint64

// MsgType distinguishes requests, responses and pushed events.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is one NDJSON line on the status socket. Responses carry the ID of
// the request they answer.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRequest creates a request with a fresh ID.
func NewRequest(method string, data any) (Message, error) {
	return newMessage(MsgTypeReq, fmt.Sprintf("req-%d", seq.Add(1)), method, data)
}

// NewResponse answers the request with ID reqID.
func NewResponse(reqID, method string, data any) (Message, error) {
	return newMessage(MsgTypeRes, reqID, method, data)
}

// NewErrorResponse answers the request with ID reqID with a failure.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	return newMessage(MsgTypeEvt, fmt.Sprintf("evt-%d", seq.Add(1)), method, data)
}

func newMessage(typ MsgType, id, method string, data any) (Message, error) {
	msg := Message{Type: typ, ID: id, Method: method}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Method, err)
	}
	return nil
}

// Request methods and event names.
const (
	MethodPing   = "Ping"
	MethodStatus = "Status"
	MethodRecent = "Recent"

	EventLogsLine      = "logs.line"
	EventSessionStatus = "session.status"
	EventDevicesDelta  = "devices.delta"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// StatusResponse describes the running collector.
type StatusResponse struct {
	PID        int      `json:"pid"`
	Version    string   `json:"version"`
	Backend    string   `json:"backend"`
	App        string   `json:"app"`
	OutputPath string   `json:"output_path"`
	State      string   `json:"state"`
	UDID       string   `json:"udid,omitempty"`
	Session    int      `json:"session"`
	Devices    []string `json:"devices,omitempty"`
	Written    int64    `json:"written"`
	Matched    int64    `json:"matched"`
	LastStatus string   `json:"last_status,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
	StartedAt  int64    `json:"started_at_unix_ms"`
}

// RecentRequest asks for the newest matched lines.
type RecentRequest struct {
	Limit int `json:"limit"`
}

// SessionEvent is pushed whenever a collection session ends.
type SessionEvent struct {
	Session int    `json:"session"`
	UDID    string `json:"udid,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Written int    `json:"written"`
	Matched int    `json:"matched"`
}

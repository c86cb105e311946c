// Package jsonrpc implements the JSON-RPC 2.0 envelope and id/waiter
// bookkeeping shared by every MCP transport driver (spec component A).
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Version is the JSON-RPC protocol version string every envelope carries.
const Version = "2.0"

// Request is an outbound call awaiting a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a fire-and-forget outbound message (no id, no reply).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ResponseError is the JSON-RPC error object.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Envelope is the generic shape an inbound line/event decodes into before
// routing: either a response (has id) or a server-initiated notification.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// IsResponse reports whether the envelope carries an id and is therefore a
// reply to a prior Request rather than a server notification.
func (e *Envelope) IsResponse() bool { return e.ID != nil }

// Framer builds requests with monotonically increasing per-driver ids and
// routes inbound envelopes to the goroutine awaiting that id, exactly the
// request/response pairing responsibility described in spec component A.
type Framer struct {
	nextID  int64
	mu      sync.Mutex
	waiters map[int64]chan Envelope
}

// NewFramer returns a Framer with a fresh id sequence starting at 1.
func NewFramer() *Framer {
	return &Framer{waiters: make(map[int64]chan Envelope)}
}

// BuildRequest allocates the next id and marshals params into a Request,
// registering a waiter channel that Route will later deliver the reply to.
func (f *Framer) BuildRequest(method string, params any) (Request, chan Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Request{}, nil, fmt.Errorf("marshal params: %w", err)
	}
	id := atomic.AddInt64(&f.nextID, 1)
	wait := make(chan Envelope, 1)

	f.mu.Lock()
	f.waiters[id] = wait
	f.mu.Unlock()

	return Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, wait, nil
}

// BuildNotification marshals a fire-and-forget message; it has no id and no
// associated waiter.
func (f *Framer) BuildNotification(method string, params any) (Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal params: %w", err)
	}
	return Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// Decode parses one inbound frame (a stdio line, or an SSE/HTTP JSON body)
// into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode jsonrpc envelope: %w", err)
	}
	return env, nil
}

// Route delivers a decoded response envelope to its waiter, returning false
// if no waiter is registered for that id (a late or duplicate reply).
func (f *Framer) Route(env Envelope) bool {
	if env.ID == nil {
		return false
	}
	f.mu.Lock()
	wait, ok := f.waiters[*env.ID]
	if ok {
		delete(f.waiters, *env.ID)
	}
	f.mu.Unlock()
	if !ok {
		return false
	}
	wait <- env
	return true
}

// Cancel removes a waiter without delivering a value, used when a call's
// context is done before any reply arrives so the map does not leak.
func (f *Framer) Cancel(id int64) {
	f.mu.Lock()
	delete(f.waiters, id)
	f.mu.Unlock()
}

// PendingCount returns the number of calls still awaiting a reply: waiters
// registered by BuildRequest that were neither routed nor cancelled.
func (f *Framer) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

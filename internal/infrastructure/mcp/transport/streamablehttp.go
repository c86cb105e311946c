package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/jsonrpc"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const sessionHeader = "Mcp-Session-Id"

// StreamableHTTPDriver implements the unified POST/GET MCP transport: a
// single URL accepts POST for request/response and optionally upgrades a
// companion GET to SSE for server-pushed events (spec §4.B.3).
type StreamableHTTPDriver struct {
	*handshakeCore
	spec    mcp.ServerSpec
	framer  *jsonrpc.Framer
	client  *resty.Client
	timeout time.Duration

	sessionMu sync.RWMutex
	sessionID string

	shouldReconnect atomic.Bool
	cancelStream    context.CancelFunc
	streamDone      chan struct{}
}

// NewStreamableHTTPDriver constructs an unopened driver for a
// STREAMABLE_HTTP ServerSpec.
func NewStreamableHTTPDriver(spec mcp.ServerSpec, log zerolog.Logger, listener Listener) *StreamableHTTPDriver {
	d := &StreamableHTTPDriver{
		handshakeCore: newHandshakeCore(spec.ID, log, listener),
		spec:          spec,
		framer:        jsonrpc.NewFramer(),
		client:        resty.New().SetTimeout(spec.Timeout()),
		timeout:       spec.Timeout(),
		streamDone:    make(chan struct{}),
	}
	d.shouldReconnect.Store(true)
	close(d.streamDone)
	return d
}

// Open attempts to upgrade a companion GET to SSE for server-pushed
// notifications; absence of that stream is not fatal ("POST only" mode).
func (d *StreamableHTTPDriver) Open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, d.spec.URL, nil)
	if err != nil {
		cancel()
		return mcp.NewTransportError(d.spec.ID, "build companion GET request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		d.log.Debug().Err(err).Msg("no companion SSE stream available, operating POST-only")
		return nil
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		cancel()
		d.log.Debug().Int("status", resp.StatusCode).Msg("companion stream not offered, operating POST-only")
		return nil
	}

	d.cancelStream = cancel
	d.streamDone = make(chan struct{})
	go d.readCompanionStream(resp.Body)
	return nil
}

// Initialize runs the common handshake over the POST endpoint.
func (d *StreamableHTTPDriver) Initialize(ctx context.Context) error {
	return runHandshake(ctx, d.handshakeCore, d.framer, d.call, d.notify)
}

func (d *StreamableHTTPDriver) call(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error) {
	resp, err := d.post(ctx, req)
	if err != nil {
		d.framer.Cancel(req.ID)
		return nil, err
	}
	if resp != nil {
		if resp.Error != nil {
			d.framer.Cancel(req.ID)
			return nil, mcp.NewToolError(d.spec.ID, resp.Error.Message, resp.Error)
		}
		d.framer.Cancel(req.ID)
		return resp.Result, nil
	}
	return waitForResponse(ctx, d.framer, req.ID, wait, d.timeout)
}

func (d *StreamableHTTPDriver) notify(ctx context.Context, notif jsonrpc.Notification) error {
	_, err := d.post(ctx, notif)
	return err
}

// post sends the JSON-RPC payload and, if the reply arrives synchronously
// in the body, returns the decoded envelope; a nil envelope means the
// caller must wait for the async SSE companion to deliver it instead.
func (d *StreamableHTTPDriver) post(ctx context.Context, payload any) (*jsonrpc.Envelope, error) {
	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)

	if sid := d.getSessionID(); sid != "" {
		req.SetHeader(sessionHeader, sid)
	}

	resp, err := req.Post(d.spec.URL)
	if err != nil {
		return nil, mcp.NewTransportError(d.spec.ID, "POST to streamable endpoint", err)
	}
	if resp.IsError() {
		return nil, mcp.NewTransportError(d.spec.ID, fmt.Sprintf("streamable POST status %d", resp.StatusCode()), nil)
	}

	if sid := resp.Header().Get(sessionHeader); sid != "" {
		d.setSessionID(sid)
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, nil
	}
	env, err := jsonrpc.Decode(body)
	if err != nil {
		return nil, mcp.NewProtocolError(d.spec.ID, "malformed POST response body", err)
	}
	return &env, nil
}

func (d *StreamableHTTPDriver) getSessionID() string {
	d.sessionMu.RLock()
	defer d.sessionMu.RUnlock()
	return d.sessionID
}

func (d *StreamableHTTPDriver) setSessionID(id string) {
	d.sessionMu.Lock()
	d.sessionID = id
	d.sessionMu.Unlock()
}

// Call sends a request; the response may arrive synchronously in the POST
// body or asynchronously via the companion SSE stream.
func (d *StreamableHTTPDriver) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, wait, err := d.framer.BuildRequest(method, params)
	if err != nil {
		return nil, mcp.NewProtocolError(d.spec.ID, "build request", err)
	}
	return d.call(ctx, req, wait)
}

// Notify posts a fire-and-forget JSON-RPC notification.
func (d *StreamableHTTPDriver) Notify(ctx context.Context, method string, params any) error {
	notif, err := d.framer.BuildNotification(method, params)
	if err != nil {
		return mcp.NewProtocolError(d.spec.ID, "build notification", err)
	}
	return d.notify(ctx, notif)
}

func (d *StreamableHTTPDriver) readCompanionStream(body io.ReadCloser) {
	defer close(d.streamDone)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		event, data, err := readSSEFrame(reader)
		if err != nil {
			return
		}
		if event != "message" && event != "" {
			continue
		}
		env, err := jsonrpc.Decode(data)
		if err != nil {
			d.log.Warn().Err(err).Msg("discarding malformed companion stream event")
			continue
		}
		if env.IsResponse() {
			if !d.framer.Route(env) {
				d.log.Warn().Int64("id", *env.ID).Msg("response for unknown id, discarding")
			}
		} else if env.Method != "" {
			d.log.Info().Str("method", env.Method).Msg("server notification")
		}
	}
}

// Close clears session state unconditionally (spec §9 open question 3) and
// tears down the companion stream if one was established.
func (d *StreamableHTTPDriver) Close() error {
	d.shouldReconnect.Store(false)
	d.setSessionID("")
	if d.cancelStream != nil {
		d.cancelStream()
		select {
		case <-d.streamDone:
		case <-time.After(2 * time.Second):
		}
	}
	d.setState(mcp.StateClosed, nil)
	return nil
}

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/jsonrpc"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// SSEDriver implements the two-endpoint MCP SSE transport: a long-lived GET
// event-stream for receiving, and a POST endpoint (announced on that
// stream) for sending (spec §4.B.2).
type SSEDriver struct {
	*handshakeCore
	spec    mcp.ServerSpec
	framer  *jsonrpc.Framer
	client  *resty.Client
	timeout time.Duration

	baseURL *url.URL

	mu           sync.Mutex
	postEndpoint string
	endpointSet  chan struct{}
	endpointOnce sync.Once

	shouldReconnect atomic.Bool
	cancelStream    context.CancelFunc
	streamDone      chan struct{}
}

// NewSSEDriver constructs an unopened driver for an SSE ServerSpec.
func NewSSEDriver(spec mcp.ServerSpec, log zerolog.Logger, listener Listener) *SSEDriver {
	d := &SSEDriver{
		handshakeCore: newHandshakeCore(spec.ID, log, listener),
		spec:          spec,
		framer:        jsonrpc.NewFramer(),
		client:        resty.New().SetTimeout(spec.Timeout()),
		timeout:       spec.Timeout(),
		endpointSet:   make(chan struct{}),
		streamDone:    make(chan struct{}),
	}
	d.shouldReconnect.Store(true)
	return d
}

// Open establishes the GET event-stream connection and starts consuming it.
func (d *SSEDriver) Open(ctx context.Context) error {
	base, err := url.Parse(d.spec.URL)
	if err != nil {
		return mcp.NewValidationError("invalid SSE url: " + err.Error())
	}
	d.baseURL = base

	streamCtx, cancel := context.WithCancel(context.Background())
	d.cancelStream = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, d.spec.URL, nil)
	if err != nil {
		cancel()
		return mcp.NewTransportError(d.spec.ID, "build SSE GET request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return mcp.NewTransportError(d.spec.ID, "open SSE stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		return mcp.NewTransportError(d.spec.ID, fmt.Sprintf("SSE stream status %d: %s", resp.StatusCode, body), nil)
	}

	go d.readStream(resp.Body)

	select {
	case <-d.endpointSet:
	case <-ctx.Done():
		cancel()
		return mcp.NewTransportError(d.spec.ID, "timed out waiting for SSE endpoint event", ctx.Err())
	}
	return nil
}

// Initialize runs the common handshake over the SSE POST/GET pair.
func (d *SSEDriver) Initialize(ctx context.Context) error {
	return runHandshake(ctx, d.handshakeCore, d.framer, d.call, d.notify)
}

func (d *SSEDriver) call(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error) {
	if err := d.post(ctx, req); err != nil {
		d.framer.Cancel(req.ID)
		return nil, err
	}
	return waitForResponse(ctx, d.framer, req.ID, wait, d.timeout)
}

func (d *SSEDriver) notify(ctx context.Context, notif jsonrpc.Notification) error {
	return d.post(ctx, notif)
}

func (d *SSEDriver) post(ctx context.Context, payload any) error {
	d.mu.Lock()
	endpoint := d.postEndpoint
	d.mu.Unlock()
	if endpoint == "" {
		return mcp.NewTransportError(d.spec.ID, "no POST endpoint announced yet", nil)
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(endpoint)
	if err != nil {
		return mcp.NewTransportError(d.spec.ID, "POST to SSE endpoint", err)
	}
	if resp.IsError() {
		return mcp.NewTransportError(d.spec.ID, fmt.Sprintf("SSE POST status %d", resp.StatusCode()), nil)
	}
	return nil
}

// Call sends a request over the POST endpoint; the response is matched by
// id on the SSE receive stream, never in the POST body.
func (d *SSEDriver) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, wait, err := d.framer.BuildRequest(method, params)
	if err != nil {
		return nil, mcp.NewProtocolError(d.spec.ID, "build request", err)
	}
	return d.call(ctx, req, wait)
}

// Notify posts a fire-and-forget JSON-RPC notification.
func (d *SSEDriver) Notify(ctx context.Context, method string, params any) error {
	notif, err := d.framer.BuildNotification(method, params)
	if err != nil {
		return mcp.NewProtocolError(d.spec.ID, "build notification", err)
	}
	return d.notify(ctx, notif)
}

// readStream consumes the SSE body: the first event carries the POST
// endpoint URI, every later "message" event carries a JSON-RPC envelope.
func (d *SSEDriver) readStream(body io.ReadCloser) {
	defer close(d.streamDone)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		event, data, err := readSSEFrame(reader)
		if err != nil {
			if d.shouldReconnect.Load() {
				d.setState(mcp.StateDisconnected, fmt.Errorf("SSE stream ended: %w", err))
			} else {
				d.setState(mcp.StateClosed, nil)
			}
			return
		}

		switch event {
		case "endpoint":
			d.endpointOnce.Do(func() {
				d.setPostEndpoint(strings.TrimSpace(string(data)))
				close(d.endpointSet)
			})
		case "message", "":
			env, err := jsonrpc.Decode(data)
			if err != nil {
				d.log.Warn().Err(err).Msg("discarding malformed SSE message event")
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
}

func (d *SSEDriver) setPostEndpoint(raw string) {
	resolved := raw
	if parsed, err := url.Parse(raw); err == nil && !parsed.IsAbs() && d.baseURL != nil {
		resolved = d.baseURL.ResolveReference(parsed).String()
	}
	d.mu.Lock()
	d.postEndpoint = resolved
	d.mu.Unlock()
}

// Close disables reconnection and tears down the stream, the fix for the
// reconnect-storm-during-teardown bug described in spec §4.B.2. It also
// clears the announced POST endpoint, which carries the session.
func (d *SSEDriver) Close() error {
	d.shouldReconnect.Store(false)
	if d.cancelStream != nil {
		d.cancelStream()
	}
	select {
	case <-d.streamDone:
	case <-time.After(2 * time.Second):
	}
	d.mu.Lock()
	d.postEndpoint = ""
	d.mu.Unlock()
	d.setState(mcp.StateClosed, nil)
	return nil
}

// ShouldReconnect reports whether the supervisor may attempt a rebuild,
// false once Close or registry shutdown has run (spec §8 property 6).
func (d *SSEDriver) ShouldReconnect() bool {
	return d.shouldReconnect.Load()
}

// readSSEFrame parses one SSE frame (event: / data: lines terminated by a
// blank line), grounded on the bufio line-scanning pattern used for SSE
// parsing elsewhere in the example pack.
func readSSEFrame(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && data.Len() == 0 {
				continue
			}
			return event, data.Bytes(), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(after, " "))
			continue
		}
	}
}

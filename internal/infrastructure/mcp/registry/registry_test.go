package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/retry"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/transport"

	"github.com/rs/zerolog"
)

// fakeRepository is a hand-rolled in-memory mcp.Repository, matching the
// teacher's XxxFunc-field mock style used in its handler tests.
type fakeRepository struct {
	mu    sync.Mutex
	specs map[string]mcp.ServerSpec
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{specs: make(map[string]mcp.ServerSpec)}
}

func (f *fakeRepository) Create(ctx context.Context, spec mcp.ServerSpec) (mcp.ServerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[spec.ID] = spec
	return spec, nil
}

func (f *fakeRepository) Update(ctx context.Context, spec mcp.ServerSpec) (mcp.ServerSpec, error) {
	return f.Create(ctx, spec)
}

func (f *fakeRepository) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.specs, id)
	return nil
}

func (f *fakeRepository) Get(ctx context.Context, id string) (mcp.ServerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.specs[id]
	if !ok {
		return mcp.ServerSpec{}, mcp.NewServerNotFoundError(id)
	}
	return spec, nil
}

func (f *fakeRepository) List(ctx context.Context) ([]mcp.ServerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mcp.ServerSpec, 0, len(f.specs))
	for _, spec := range f.specs {
		out = append(out, spec)
	}
	return out, nil
}

func (f *fakeRepository) UpdateCapabilities(ctx context.Context, id string, caps mcp.ServerCapabilities) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.specs[id]
	if !ok {
		return mcp.NewServerNotFoundError(id)
	}
	f.specs[id] = spec
	return nil
}

// fakeDriver counts how many instances are simultaneously "live" (opened,
// not yet closed) across the whole test, the instrumentation spec §8
// property 1 calls for.
type fakeDriver struct {
	id          string
	listener    transport.Listener
	failOpen    bool
	liveCounter *int32
	closed      atomic.Bool
	state       atomic.Value
}

func newFakeDriver(id string, listener transport.Listener, failOpen bool, liveCounter *int32) *fakeDriver {
	d := &fakeDriver{id: id, listener: listener, failOpen: failOpen, liveCounter: liveCounter}
	d.state.Store(mcp.StateConnecting)
	return d
}

func (d *fakeDriver) Open(ctx context.Context) error {
	if d.failOpen {
		return mcp.NewTransportError(d.id, "fake open failure", nil)
	}
	atomic.AddInt32(d.liveCounter, 1)
	return nil
}

func (d *fakeDriver) Initialize(ctx context.Context) error {
	d.state.Store(mcp.StateReady)
	if d.listener != nil {
		d.listener.OnStateChange(d.id, mcp.StateReady, nil)
	}
	return nil
}

func (d *fakeDriver) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (d *fakeDriver) Notify(ctx context.Context, method string, params any) error { return nil }

func (d *fakeDriver) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		atomic.AddInt32(d.liveCounter, -1)
	}
	d.state.Store(mcp.StateClosed)
	return nil
}

func (d *fakeDriver) State() mcp.DriverState { return d.state.Load().(mcp.DriverState) }

func (d *fakeDriver) Capabilities() *mcp.ServerCapabilities { return nil }

func newTestRegistry(builder func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error)) (*Registry, *fakeRepository) {
	repo := newFakeRepository()
	reg := New(repo, retry.NewSupervisor(), zerolog.Nop())
	reg.buildDriver = builder
	return reg, repo
}

func TestRegisterBuildsAReadyDriver(t *testing.T) {
	var live int32
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return newFakeDriver(spec.ID, listener, false, &live), nil
	})

	spec := mcp.ServerSpec{ID: "calc", TransportType: mcp.TransportStdio, Command: "echo-server"}
	if err := reg.Register(context.Background(), spec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	driver, err := reg.GetClient(context.Background(), "calc")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if driver.State() != mcp.StateReady {
		t.Fatalf("expected READY, got %s", driver.State())
	}
	if live != 1 {
		t.Fatalf("expected exactly 1 live driver, got %d", live)
	}
}

// TestSingleDriverPerID pins spec §8 property 1: re-registering the same id
// never leaves more than one live driver for it.
func TestSingleDriverPerID(t *testing.T) {
	var live int32
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return newFakeDriver(spec.ID, listener, false, &live), nil
	})

	spec := mcp.ServerSpec{ID: "calc", TransportType: mcp.TransportStdio, Command: "echo-server"}
	for i := 0; i < 5; i++ {
		if err := reg.Register(context.Background(), spec); err != nil {
			t.Fatalf("Register #%d: %v", i, err)
		}
		if live > 1 {
			t.Fatalf("observed %d simultaneously live drivers for one id", live)
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly 1 live driver after repeated register, got %d", live)
	}
}

func TestGetClientUnknownIDFailsNotFound(t *testing.T) {
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return nil, errors.New("should not be called")
	})

	_, err := reg.GetClient(context.Background(), "ghost")
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrServerNotFound {
		t.Fatalf("expected ServerNotFound, got %v", err)
	}
}

func TestGetClientUnavailableWhenBackoffNotElapsed(t *testing.T) {
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return nil, mcp.NewTransportError(spec.ID, "boom", nil)
	})

	spec := mcp.ServerSpec{ID: "flaky", TransportType: mcp.TransportStdio, Command: "echo-server"}
	_ = reg.Register(context.Background(), spec)

	_, err := reg.GetClient(context.Background(), "flaky")
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrServerUnavailable {
		t.Fatalf("expected ServerUnavailable, got %v", err)
	}
}

func TestShutdownClosesAllDriversAndBlocksRebuild(t *testing.T) {
	var live int32
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return newFakeDriver(spec.ID, listener, false, &live), nil
	})

	for _, id := range []string{"a", "b", "c"} {
		spec := mcp.ServerSpec{ID: id, TransportType: mcp.TransportStdio, Command: "echo-server"}
		if err := reg.Register(context.Background(), spec); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	if live != 3 {
		t.Fatalf("expected 3 live drivers before shutdown, got %d", live)
	}

	reg.Shutdown()
	if live != 0 {
		t.Fatalf("expected 0 live drivers after shutdown, got %d", live)
	}

	_, err := reg.GetClient(context.Background(), "a")
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrShuttingDown {
		t.Fatalf("expected ShuttingDown after Shutdown, got %v", err)
	}

	reg.Shutdown() // idempotent
}

func TestDisabledSpecNeverBuildsADriver(t *testing.T) {
	var live int32
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return newFakeDriver(spec.ID, listener, false, &live), nil
	})

	spec := mcp.ServerSpec{ID: "calc", TransportType: mcp.TransportStdio, Command: "echo-server", Disabled: true}
	if err := reg.Register(context.Background(), spec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if live != 0 {
		t.Fatalf("expected no driver built for a disabled spec, got %d live", live)
	}

	_, err := reg.GetClient(context.Background(), "calc")
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrServerUnavailable {
		t.Fatalf("expected ServerUnavailable for a disabled spec, got %v", err)
	}
}

func TestListHealthReflectsDriverState(t *testing.T) {
	var live int32
	reg, _ := newTestRegistry(func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error) {
		return newFakeDriver(spec.ID, listener, false, &live), nil
	})

	spec := mcp.ServerSpec{ID: "calc", TransportType: mcp.TransportStdio, Command: "echo-server"}
	_ = reg.Register(context.Background(), spec)

	health := reg.ListHealth()
	if len(health) != 1 || !health[0].Connected {
		t.Fatalf("expected one connected health entry, got %+v", health)
	}
	if time.Since(health[0].LastCheckAt) > time.Second {
		t.Fatalf("expected a fresh LastCheckAt")
	}
}

// Package registry implements the MCP server registry (spec component D):
// the single source of truth for which drivers exist, enforcing the
// one-live-driver-per-id invariant and gating rebuilds through the retry
// supervisor.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/metrics"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/retry"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/transport"

	"github.com/rs/zerolog"
)

// driverStates enumerates every DriverState value for the gauge reset in
// setDriverStateMetric.
var driverStates = []string{
	string(mcp.StateConnecting),
	string(mcp.StateInitializing),
	string(mcp.StateReady),
	string(mcp.StateDisconnected),
	string(mcp.StateClosed),
}

// Registry owns the driver mapping exclusively; all mutations to it go
// through Registry's operations (spec §5 shared-resource policy).
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]mcp.ServerSpec
	drivers map[string]transport.Driver

	repo       mcp.Repository
	supervisor *retry.Supervisor
	log        zerolog.Logger

	// buildDriver defaults to transport.Build; tests in this package
	// substitute a fake to avoid spawning real processes or sockets.
	buildDriver func(spec mcp.ServerSpec, log zerolog.Logger, listener transport.Listener) (transport.Driver, error)

	shuttingDown atomic.Bool
}

// New constructs a Registry backed by repo for persistence.
func New(repo mcp.Repository, supervisor *retry.Supervisor, log zerolog.Logger) *Registry {
	return &Registry{
		specs:       make(map[string]mcp.ServerSpec),
		drivers:     make(map[string]transport.Driver),
		repo:        repo,
		supervisor:  supervisor,
		log:         log.With().Str("component", "registry").Logger(),
		buildDriver: transport.Build,
	}
}

// LoadFromPersistence reads every persisted spec at startup into the
// in-memory cache. It does not build drivers; call StartAll (or Register
// per spec) to bring them up.
func (r *Registry) LoadFromPersistence(ctx context.Context) error {
	specs, err := r.repo.List(ctx)
	if err != nil {
		return mcp.NewTransportError("", "load specs from persistence", err)
	}
	r.mu.Lock()
	for _, spec := range specs {
		r.specs[spec.ID] = spec
	}
	r.mu.Unlock()
	return nil
}

// StartAll builds a driver for every non-disabled cached spec, logging
// per-id build failures without aborting the rest.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	specs := make([]mcp.ServerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	r.mu.RUnlock()

	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		if err := r.buildAndStore(ctx, spec); err != nil {
			r.log.Warn().Err(err).Str("server_id", spec.ID).Msg("initial driver build failed")
		}
	}
}

// Register upserts spec in persistence, tearing down any existing driver
// for that id and, if not disabled, immediately attempting a rebuild. A
// build failure is reported but never fails Register: saving the spec is
// the contract (spec §4.D).
func (r *Registry) Register(ctx context.Context, spec mcp.ServerSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if r.shuttingDown.Load() {
		return mcp.NewShuttingDownError(spec.ID)
	}

	saved, err := r.upsert(ctx, spec)
	if err != nil {
		return err
	}

	r.closeExisting(spec.ID)
	r.supervisor.Reset(spec.ID)

	r.mu.Lock()
	r.specs[spec.ID] = saved
	r.mu.Unlock()

	if saved.Disabled {
		return nil
	}
	if err := r.buildAndStore(ctx, saved); err != nil {
		r.log.Warn().Err(err).Str("server_id", saved.ID).Msg("build failed during register")
	}
	return nil
}

func (r *Registry) upsert(ctx context.Context, spec mcp.ServerSpec) (mcp.ServerSpec, error) {
	if _, err := r.repo.Get(ctx, spec.ID); err != nil {
		return r.repo.Create(ctx, spec)
	}
	return r.repo.Update(ctx, spec)
}

// Unregister removes the spec from persistence and closes its driver.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if _, err := r.repo.Get(ctx, id); err != nil {
		return mcp.NewServerNotFoundError(id)
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return mcp.NewTransportError(id, "delete spec", err)
	}

	r.closeExisting(id)
	r.supervisor.Reset(id)

	r.mu.Lock()
	delete(r.specs, id)
	r.mu.Unlock()
	return nil
}

// GetClient returns the live driver for id, rebuilding it if necessary and
// permitted by the supervisor (spec §4.D).
func (r *Registry) GetClient(ctx context.Context, id string) (transport.Driver, error) {
	if r.shuttingDown.Load() {
		return nil, mcp.NewShuttingDownError(id)
	}

	r.mu.RLock()
	spec, specOK := r.specs[id]
	driver, driverOK := r.drivers[id]
	r.mu.RUnlock()

	if !specOK {
		return nil, mcp.NewServerNotFoundError(id)
	}
	if driverOK && driver.State() == mcp.StateReady {
		return driver, nil
	}
	if spec.Disabled {
		return nil, mcp.NewServerUnavailableError(id, nil)
	}
	if !r.supervisor.CanRetry(id) {
		metrics.RecordSuppressedReconnect(id)
		return nil, mcp.NewServerUnavailableError(id, nil)
	}

	if err := r.buildAndStore(ctx, spec); err != nil {
		return nil, mcp.NewServerUnavailableError(id, err)
	}

	r.mu.RLock()
	driver = r.drivers[id]
	r.mu.RUnlock()
	return driver, nil
}

// buildAndStore opens and handshakes a fresh driver for spec, installs it
// in the driver map under lock (so GetClient during a rebuild never
// observes a partially initialized driver, spec §5), and records the
// outcome with the supervisor.
func (r *Registry) buildAndStore(ctx context.Context, spec mcp.ServerSpec) error {
	driver, err := r.buildDriver(spec, r.log, r)
	if err != nil {
		r.recordFailure(spec.ID)
		return err
	}

	buildCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	if err := driver.Open(buildCtx); err != nil {
		r.recordFailure(spec.ID)
		return err
	}
	if err := driver.Initialize(buildCtx); err != nil {
		_ = driver.Close()
		r.recordFailure(spec.ID)
		return err
	}

	r.mu.Lock()
	if r.shuttingDown.Load() {
		r.mu.Unlock()
		_ = driver.Close()
		return mcp.NewShuttingDownError(spec.ID)
	}
	r.drivers[spec.ID] = driver
	r.mu.Unlock()

	r.recordSuccess(spec.ID)
	metrics.SetDriverState(spec.ID, driverStates, string(driver.State()))

	if caps := driver.Capabilities(); caps != nil {
		if err := r.repo.UpdateCapabilities(ctx, spec.ID, *caps); err != nil {
			r.log.Warn().Err(err).Str("server_id", spec.ID).Msg("failed to cache capabilities")
		}
	}
	return nil
}

// recordFailure records a failed connection attempt with the supervisor and
// mirrors the resulting counter on the consecutive-failures gauge.
func (r *Registry) recordFailure(id string) {
	r.supervisor.RecordFailure(id)
	metrics.SetConsecutiveFailures(id, r.supervisor.ConsecutiveFailures(id))
}

// recordSuccess resets the supervisor's failure counter and the gauge
// mirroring it.
func (r *Registry) recordSuccess(id string) {
	r.supervisor.RecordSuccess(id)
	metrics.SetConsecutiveFailures(id, 0)
}

func (r *Registry) closeExisting(id string) {
	r.mu.Lock()
	driver, ok := r.drivers[id]
	if ok {
		delete(r.drivers, id)
	}
	r.mu.Unlock()
	if ok {
		_ = driver.Close()
	}
}

// GetSpec returns the cached spec for id.
func (r *Registry) GetSpec(id string) (mcp.ServerSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	if !ok {
		return mcp.ServerSpec{}, mcp.NewServerNotFoundError(id)
	}
	return spec, nil
}

// ListSpecs returns every cached spec.
func (r *Registry) ListSpecs() []mcp.ServerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ServerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	return out
}

// ReadyDriverIDs returns the ids of every driver currently in state READY,
// used by the facade to aggregate ListTools/ListResources/ListPrompts.
func (r *Registry) ReadyDriverIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for id, driver := range r.drivers {
		if driver.State() == mcp.StateReady {
			out = append(out, id)
		}
	}
	return out
}

// Driver exposes the live driver for id without attempting a rebuild, used
// by the facade's per-id aggregate loops that must never abort on one
// failed id (spec §4.E).
func (r *Registry) Driver(id string) (transport.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	return d, ok
}

// ListHealth computes the health view for every cached spec on demand by
// inspecting its driver if present (spec §4.D).
func (r *Registry) ListHealth() []mcp.Health {
	r.mu.RLock()
	specs := make([]mcp.ServerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	r.mu.RUnlock()

	out := make([]mcp.Health, 0, len(specs))
	for _, spec := range specs {
		out = append(out, r.healthFor(spec.ID))
	}
	return out
}

func (r *Registry) healthFor(id string) mcp.Health {
	r.mu.RLock()
	driver, ok := r.drivers[id]
	r.mu.RUnlock()

	h := mcp.Health{ServerID: id, LastCheckAt: time.Now()}
	if !ok {
		h.State = mcp.StateDisconnected
		return h
	}
	h.State = driver.State()
	h.Connected = h.State == mcp.StateReady
	h.Capabilities = driver.Capabilities()
	return h
}

// Shutdown marks the registry as shutting down (preventing any further
// rebuild) and closes every live driver, waiting for each to release its
// resources (spec §4.D invariant 3). Idempotent.
func (r *Registry) Shutdown() {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	drivers := make([]transport.Driver, 0, len(r.drivers))
	for id, d := range r.drivers {
		drivers = append(drivers, d)
		delete(r.drivers, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range drivers {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Close()
		}()
	}
	wg.Wait()
}

// OnStateChange implements transport.Listener: it records failures and
// successes with the supervisor and logs transitions. It never itself
// triggers a rebuild — GetClient does that on demand, keeping Shutdown's
// "no new rebuild attempt" guarantee simple to enforce.
func (r *Registry) OnStateChange(serverID string, state mcp.DriverState, err error) {
	r.log.Debug().Str("server_id", serverID).Str("state", string(state)).Err(err).Msg("driver state change")
	metrics.SetDriverState(serverID, driverStates, string(state))
	switch state {
	case mcp.StateReady:
		r.recordSuccess(serverID)
	case mcp.StateDisconnected:
		if !r.shuttingDown.Load() {
			r.recordFailure(serverID)
		}
	}
}

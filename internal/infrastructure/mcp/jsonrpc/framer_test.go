package jsonrpc

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequestIDsAreMonotonicAndUnique(t *testing.T) {
	f := NewFramer()

	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		req, _, err := f.BuildRequest("tools/list", nil)
		require.NoError(t, err)
		require.False(t, seen[req.ID], "id %d reused while still pending", req.ID)
		seen[req.ID] = true
		require.Equal(t, int64(i+1), req.ID)
	}
}

func TestBuildNotificationHasNoID(t *testing.T) {
	f := NewFramer()
	notif, err := f.BuildNotification("notifications/initialized", nil)
	require.NoError(t, err)
	raw, _ := json.Marshal(notif)
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	_, ok := generic["id"]
	require.False(t, ok, "notification must not carry an id field")
}

func TestRouteDeliversToMatchingWaiter(t *testing.T) {
	f := NewFramer()
	reqA, waitA, _ := f.BuildRequest("tools/call", map[string]any{"name": "a"})
	reqB, waitB, _ := f.BuildRequest("tools/call", map[string]any{"name": "b"})

	idB := reqB.ID
	if !f.Route(Envelope{ID: &idB, Result: json.RawMessage(`"b-result"`)}) {
		t.Fatalf("expected Route to find waiter for b")
	}
	idA := reqA.ID
	if !f.Route(Envelope{ID: &idA, Result: json.RawMessage(`"a-result"`)}) {
		t.Fatalf("expected Route to find waiter for a")
	}

	envB := <-waitB
	envA := <-waitA
	if string(envB.Result) != `"b-result"` || string(envA.Result) != `"a-result"` {
		t.Fatalf("responses routed to the wrong caller: a=%s b=%s", envA.Result, envB.Result)
	}
}

func TestRouteUnknownIDIsDiscarded(t *testing.T) {
	f := NewFramer()
	bogus := int64(999)
	if f.Route(Envelope{ID: &bogus, Result: json.RawMessage(`1`)}) {
		t.Fatalf("expected Route to report no waiter for an unknown id")
	}
}

func TestRouteConcurrentCallsNoCrossTalk(t *testing.T) {
	f := NewFramer()
	const n = 50
	type call struct {
		id   int64
		wait chan Envelope
	}
	calls := make([]call, n)
	for i := range calls {
		req, wait, _ := f.BuildRequest("tools/call", nil)
		calls[i] = call{id: req.ID, wait: wait}
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.id
			f.Route(Envelope{ID: &id, Result: json.RawMessage(`"ok"`)})
		}()
	}
	wg.Wait()

	for _, c := range calls {
		env := <-c.wait
		gotID := *env.ID
		if gotID != c.id {
			t.Fatalf("cross-talk: expected id %d, got %d", c.id, gotID)
		}
	}
}

func TestCancelRemovesWaiterWithoutLeak(t *testing.T) {
	f := NewFramer()
	req, _, _ := f.BuildRequest("tools/call", nil)
	f.Cancel(req.ID)
	if f.PendingCount() != 0 {
		t.Fatalf("expected no pending waiters after Cancel, got %d", f.PendingCount())
	}
	if f.Route(Envelope{ID: &req.ID, Result: json.RawMessage(`1`)}) {
		t.Fatalf("a cancelled id must not be routable (late response must be discarded)")
	}
}

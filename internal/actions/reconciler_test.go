package actions

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/kphconsole/internal/devserver"
	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
)

type resolveCall struct {
	id    string
	extra map[string]string
}

type fakeClient struct {
	stateclient.Client

	mu    sync.Mutex
	err   error
	calls []resolveCall
}

func (f *fakeClient) ResolveAction(ctx context.Context, id string, extra map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resolveCall{id: id, extra: extra})
	return f.err
}

func assoc(id string) types.PendingAction {
	return types.PendingAction{ID: id, Type: types.ActionAssociate, Date: "today", Client: "key-" + id}
}

func ids(as []types.PendingAction) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}

func TestReconcile_SetDifference(t *testing.T) {
	r := New(&fakeClient{}, Options{})

	d := r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})
	assert.Equal(t, []string{"A", "B"}, ids(d.ToAdd))
	assert.Empty(t, d.ToRemove)

	d = r.Reconcile([]types.PendingAction{assoc("B"), assoc("C")})
	assert.Equal(t, []string{"C"}, ids(d.ToAdd))
	assert.Equal(t, []string{"A"}, d.ToRemove)
	assert.Equal(t, []string{"B", "C"}, ids(r.Pending()))
}

func TestReconcile_NoReorderOfShownItems(t *testing.T) {
	r := New(&fakeClient{}, Options{})
	r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})

	d := r.Reconcile([]types.PendingAction{assoc("C"), assoc("B"), assoc("A")})
	assert.Equal(t, []string{"C"}, ids(d.ToAdd))
	assert.Empty(t, d.ToRemove)
	assert.Equal(t, []string{"A", "B", "C"}, ids(r.Pending()))

	assert.True(t, r.Reconcile([]types.PendingAction{assoc("A"), assoc("B"), assoc("C")}).Empty())
}

func TestReconcile_UnknownTypesProduceNoCard(t *testing.T) {
	r := New(&fakeClient{}, Options{})
	unknown := types.PendingAction{ID: "X", Type: "unpair"}

	d := r.Reconcile([]types.PendingAction{unknown, assoc("A"), assoc("A")})
	assert.Equal(t, []string{"A"}, ids(d.ToAdd))
	_, ok := r.Get("X")
	assert.False(t, ok)
}

func TestResolve_UnknownIDIsNoop(t *testing.T) {
	c := &fakeClient{}
	r := New(c, Options{})
	r.Reconcile([]types.PendingAction{assoc("A")})

	removed, err := r.Resolve(context.Background(), "ghost", true, map[string]string{"data": "x"})
	assert.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, c.calls, "no network call for stale ids")
}

func TestResolve_OptimisticRemoval(t *testing.T) {
	c := &fakeClient{}
	r := New(c, Options{})
	r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})

	removed, err := r.Resolve(context.Background(), "A", true, map[string]string{"data": "laptop"})
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"B"}, ids(r.Pending()))
	require.Len(t, c.calls, 1)
	assert.Equal(t, map[string]string{"data": "laptop"}, c.calls[0].extra)

	removed, err = r.Resolve(context.Background(), "B", false, map[string]string{"ignored": "x"})
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Nil(t, c.calls[1].extra, "deny sends no extra data")
	assert.Empty(t, r.Pending())
}

func TestResolve_ApproveWithoutExtraStillApproves(t *testing.T) {
	c := &fakeClient{}
	r := New(c, Options{})
	r.Reconcile([]types.PendingAction{assoc("A")})

	_, err := r.Resolve(context.Background(), "A", true, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.calls[0].extra)
}

func TestResolve_FailureKeepsItem(t *testing.T) {
	c := &fakeClient{err: &stateclient.NetworkError{Status: 500, Message: "boom"}}
	r := New(c, Options{})
	r.Reconcile([]types.PendingAction{assoc("A")})

	removed, err := r.Resolve(context.Background(), "A", false, nil)
	assert.Error(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"A"}, ids(r.Pending()))
}

func TestTombstones_SuppressStaleReadd(t *testing.T) {
	r := New(&fakeClient{}, Options{TombstoneTTL: time.Minute})
	r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})

	_, err := r.Resolve(context.Background(), "A", false, nil)
	require.NoError(t, err)

	// el servidor todavía lista A
	d := r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})
	assert.True(t, d.Empty())
	assert.Equal(t, []string{"B"}, ids(r.Pending()))
}

func TestWithoutTombstones_StaleSnapshotReadds(t *testing.T) {
	r := New(&fakeClient{}, Options{})
	r.Reconcile([]types.PendingAction{assoc("A")})
	_, err := r.Resolve(context.Background(), "A", false, nil)
	require.NoError(t, err)

	d := r.Reconcile([]types.PendingAction{assoc("A")})
	assert.Equal(t, []string{"A"}, ids(d.ToAdd))
}

func TestResolve_Concurrent(t *testing.T) {
	r := New(&fakeClient{}, Options{})
	var as []types.PendingAction
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		as = append(as, assoc(id))
	}
	r.Reconcile(as)

	var wg sync.WaitGroup
	for _, a := range as {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), id, false, nil)
			assert.NoError(t, err)
		}(a.ID)
	}
	wg.Wait()
	assert.Empty(t, r.Pending())
}

func TestResolve_AgainstDevServer(t *testing.T) {
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := stateclient.New(ts.URL, 0)
	a := srv.AddAction(types.ActionAssociate, "client-key")

	r := New(c, Options{TombstoneTTL: time.Minute})
	st, err := c.FetchState(context.Background())
	require.NoError(t, err)
	r.Reconcile(st.Actions)

	removed, err := r.Resolve(context.Background(), a.ID, true, map[string]string{"data": "laptop"})
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, srv.Actions())
}

func TestResolve_AlreadyResolvedOnServerIsRemoved(t *testing.T) {
	c := &fakeClient{err: fmt.Errorf("A: %w", stateclient.ErrStaleAction)}
	r := New(c, Options{TombstoneTTL: time.Minute})
	r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})

	removed, err := r.Resolve(context.Background(), "A", false, nil)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"B"}, ids(r.Pending()))

	d := r.Reconcile([]types.PendingAction{assoc("A"), assoc("B")})
	assert.True(t, d.Empty(), "tombstoned like a normal resolve")
}

func TestResolve_SameIDTwiceConcurrently(t *testing.T) {
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := stateclient.New(ts.URL, 0)
	a := srv.AddAction(types.ActionAssociate, "client-key")

	r := New(c, Options{TombstoneTTL: time.Minute})
	st, err := c.FetchState(context.Background())
	require.NoError(t, err)
	r.Reconcile(st.Actions)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		removals int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := r.Resolve(context.Background(), a.ID, false, nil)
			assert.NoError(t, err)
			if removed {
				mu.Lock()
				removals++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, removals)
	assert.Empty(t, r.Pending())
	assert.Empty(t, srv.Actions())
}

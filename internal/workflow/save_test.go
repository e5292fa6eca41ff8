package workflow

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/kphconsole/internal/devserver"
	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
)

// fakeClient devuelve respuestas fijas y cuenta llamadas.
type fakeClient struct {
	mu sync.Mutex

	saveState  types.ServerState
	saveErr    error
	restartErr error
	fetchState types.ServerState
	fetchErr   error

	// saveGate, si no es nil, bloquea SaveState hasta que se cierre.
	saveGate chan struct{}
	saving   chan struct{}

	saves, restarts, fetches int
	lastForm                 map[string]string
}

func (f *fakeClient) FetchState(ctx context.Context) (types.ServerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.fetchState, f.fetchErr
}

func (f *fakeClient) SaveState(ctx context.Context, cfg map[string]string) (types.ServerState, error) {
	if f.saveGate != nil {
		close(f.saving)
		<-f.saveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.lastForm = cfg
	return f.saveState, f.saveErr
}

func (f *fakeClient) RestartServer(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartErr
}

func (f *fakeClient) ResolveAction(ctx context.Context, id string, extra map[string]string) error {
	return nil
}

func (f *fakeClient) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves, f.restarts, f.fetches
}

func freshState() types.ServerState {
	return types.ServerState{
		Config:        map[string]string{"keepass_db": "/srv/db.kdbx", "port": "19455"},
		ServerRunning: true,
	}
}

func run(t *testing.T, c stateclient.Client, form map[string]string) (types.WorkflowResult, []types.Stage) {
	t.Helper()
	var stages []types.Stage
	w := New(c, Options{OnStage: func(s types.Stage) { stages = append(stages, s) }})
	res, err := w.Run(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, types.StageDone, w.Stage())
	return res, stages
}

func TestRun_Success(t *testing.T) {
	c := &fakeClient{
		saveState:  types.ServerState{Config: map[string]string{"keepass_db": "db.kdbx"}},
		fetchState: freshState(),
	}
	res, stages := run(t, c, map[string]string{"keepass_db": "db.kdbx"})

	assert.True(t, res.OK())
	assert.NoError(t, res.Err)
	assert.Equal(t, "", res.Message())
	// el servidor es autoritativo: config viene del fetch, no del formulario
	assert.Equal(t, freshState().Config, res.State.Config)
	assert.Equal(t, []types.Stage{
		types.StageIdle, types.StageSaving, types.StageRestarting, types.StageRefreshing, types.StageDone,
	}, stages)
	saves, restarts, fetches := c.counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{saves, restarts, fetches})
}

func TestRun_SaveNetworkErrorAborts(t *testing.T) {
	netErr := &stateclient.NetworkError{Message: "connection refused"}
	c := &fakeClient{saveErr: netErr, fetchState: freshState()}

	res, stages := run(t, c, map[string]string{"keepass_db": "db.kdbx"})

	saves, restarts, fetches := c.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, 0, restarts)
	assert.Equal(t, 0, fetches)
	assert.ErrorIs(t, res.Err, netErr)
	assert.Equal(t, "connection refused", res.Message())
	assert.False(t, res.State.HasSnapshot())
	assert.Equal(t, []types.Stage{types.StageIdle, types.StageSaving, types.StageDone}, stages)
}

func TestRun_SaveDomainErrorCarriedOverRefresh(t *testing.T) {
	c := &fakeClient{
		saveState:  types.ServerState{Config: map[string]string{}, Error: "bad path"},
		saveErr:    &stateclient.DomainError{Message: "bad path"},
		fetchState: freshState(),
	}
	res, stages := run(t, c, map[string]string{"keepass_db": "nope"})

	saves, restarts, fetches := c.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, 0, restarts, "domain error skips restarting")
	assert.Equal(t, 1, fetches)
	assert.Equal(t, "bad path", res.Message())
	assert.True(t, stateclient.IsDomain(res.Err))
	assert.Equal(t, freshState().Config, res.State.Config)
	assert.Equal(t, "", c.fetchState.Error, "fetched snapshot is not mutated")
	assert.Equal(t, []types.Stage{types.StageIdle, types.StageSaving, types.StageRefreshing, types.StageDone}, stages)
}

func TestRun_RestartNetworkFailureStillRefreshes(t *testing.T) {
	c := &fakeClient{
		saveState:  freshState(),
		restartErr: &stateclient.NetworkError{Status: 502, Message: "bad gateway"},
		fetchState: freshState(),
	}
	res, _ := run(t, c, map[string]string{"keepass_db": "db.kdbx"})

	saves, restarts, fetches := c.counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{saves, restarts, fetches})
	assert.Equal(t, RestartFailedMessage, res.Message())
	assert.Equal(t, freshState().Config, res.State.Config)
	var re *RestartError
	assert.True(t, errors.As(res.Err, &re))
}

func TestRun_RestartDomainErrorKeepsServerMessage(t *testing.T) {
	c := &fakeClient{
		saveState:  freshState(),
		restartErr: &stateclient.DomainError{Message: "port in use"},
		fetchState: freshState(),
	}
	res, _ := run(t, c, map[string]string{"keepass_db": "db.kdbx"})
	assert.Equal(t, "port in use", res.Message())
}

func TestRun_RefreshFailureOverridesCarriedError(t *testing.T) {
	c := &fakeClient{
		saveErr:  &stateclient.DomainError{Message: "bad path"},
		fetchErr: &stateclient.NetworkError{Message: "timeout reading state"},
	}
	res, _ := run(t, c, map[string]string{"keepass_db": "nope"})

	assert.Equal(t, "timeout reading state", res.Message())
	assert.True(t, stateclient.IsNetwork(res.Err))
	assert.False(t, res.State.HasSnapshot())
}

func TestRun_RefreshDomainErrorWithoutCarried(t *testing.T) {
	fresh := freshState()
	fresh.Error = "database locked"
	c := &fakeClient{saveState: freshState(), fetchState: fresh, fetchErr: &stateclient.DomainError{Message: "database locked"}}

	res, _ := run(t, c, map[string]string{"keepass_db": "db.kdbx"})
	assert.Equal(t, "database locked", res.Message())
	assert.True(t, res.State.HasSnapshot())
}

func TestRun_RejectsConcurrentSubmit(t *testing.T) {
	c := &fakeClient{
		saveState:  freshState(),
		fetchState: freshState(),
		saveGate:   make(chan struct{}),
		saving:     make(chan struct{}),
	}
	w := New(c, Options{})

	done := make(chan types.WorkflowResult)
	go func() {
		res, _ := w.Run(context.Background(), map[string]string{"keepass_db": "db.kdbx"})
		done <- res
	}()
	<-c.saving
	assert.Equal(t, types.StageSaving, w.Stage())

	_, err := w.Run(context.Background(), map[string]string{"keepass_db": "other.kdbx"})
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(c.saveGate)
	res := <-done
	assert.True(t, res.OK())
	saves, _, _ := c.counts()
	assert.Equal(t, 1, saves)

	// terminada la corrida, se puede volver a enviar
	c.saveGate = nil
	_, err = w.Run(context.Background(), map[string]string{"keepass_db": "db.kdbx"})
	assert.NoError(t, err)
}

func TestRun_AgainstDevServer(t *testing.T) {
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := stateclient.New(ts.URL, 0)

	res, _ := run(t, c, map[string]string{"keepass_db": "/home/me/db.kdbx", "port": "19455"})
	require.True(t, res.OK(), res.Message())
	assert.True(t, res.State.ServerRunning)
	assert.Equal(t, "19455", res.State.Config["port"])

	res, _ = run(t, c, map[string]string{"keepass_db": "/home/me/notes.txt"})
	assert.Equal(t, devserver.ErrInvalidDBPath, res.Message())
	assert.Equal(t, "/home/me/db.kdbx", res.State.Config["keepass_db"])
	assert.Equal(t, 1, srv.Calls("POST", stateclient.PathRestart))
	assert.Equal(t, 2, srv.Calls("GET", stateclient.PathState))
}

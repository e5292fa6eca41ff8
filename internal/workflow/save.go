// Package workflow implementa el pipeline save→restart→refresh como una máquina de estados:
//
//	idle → saving → restarting → refreshing → done
//
// Reglas:
//   - una falla de red en saving termina la corrida; restart y refresh no se intentan;
//   - un error de dominio en saving saltea restarting y se arrastra hasta el final;
//   - después de restarting siempre viene refreshing, falle o no el restart;
//   - una falla de red en refreshing es terminal y pisa cualquier error arrastrado.
//
// Sólo puede haber una corrida a la vez: un segundo Run mientras otro está en curso
// falla con ErrRunInFlight.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/metrics"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
	"github.com/dropDatabas3/kphconsole/internal/util"
)

// ErrRunInFlight se retorna cuando ya hay un guardado en curso.
var ErrRunInFlight = errors.New("a save is already in progress")

// RestartFailedMessage es lo que ve el usuario cuando el restart falla por red.
const RestartFailedMessage = "failed to restart server"

// RestartError envuelve la falla del restart.
// El mensaje es genérico salvo que el servidor haya explicado el motivo.
type RestartError struct {
	Cause error
}

func (e *RestartError) Error() string {
	if stateclient.IsDomain(e.Cause) {
		return stateclient.Message(e.Cause)
	}
	return RestartFailedMessage
}

func (e *RestartError) Unwrap() error { return e.Cause }

// Options configura el workflow.
type Options struct {
	// OnStage se llama en cada transición, en el goroutine de Run.
	OnStage func(types.Stage)
}

type SaveWorkflow struct {
	client stateclient.Client
	opts   Options
	sem    *semaphore.Weighted

	mu    sync.Mutex
	stage types.Stage
}

func New(client stateclient.Client, opts Options) *SaveWorkflow {
	return &SaveWorkflow{
		client: client,
		opts:   opts,
		sem:    semaphore.NewWeighted(1),
		stage:  types.StageIdle,
	}
}

// Stage retorna la etapa actual (done después de la última corrida).
func (w *SaveWorkflow) Stage() types.Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stage
}

// Run ejecuta una corrida completa. El error sólo es no-nil cuando la corrida no
// arrancó (ErrRunInFlight); las fallas de las etapas viajan en WorkflowResult.
func (w *SaveWorkflow) Run(ctx context.Context, form map[string]string) (types.WorkflowResult, error) {
	if !w.sem.TryAcquire(1) {
		return types.WorkflowResult{}, ErrRunInFlight
	}
	defer w.sem.Release(1)

	start := time.Now()
	log := logger.From(ctx).With(logger.Component("workflow"))
	log.Debug("submitting form", logger.Form(util.MaskConfig(form)))
	ctx = logger.ToContext(ctx, log)

	w.enter(types.StageIdle)
	res := w.run(ctx, form)
	w.enter(types.StageDone)

	outcome := "ok"
	switch {
	case res.OK():
	case stateclient.IsNetwork(res.Err) && !isRestart(res.Err):
		outcome = "network_error"
	default:
		outcome = "error"
	}
	metrics.WorkflowRuns.WithLabelValues(outcome).Inc()
	log.Info("save workflow finished",
		logger.Outcome(outcome),
		logger.Duration(time.Since(start)),
		logger.ErrMsg(res.Message()),
	)
	return res, nil
}

func (w *SaveWorkflow) run(ctx context.Context, form map[string]string) types.WorkflowResult {
	// saving
	w.enter(types.StageSaving)
	var carried error
	_, err := w.client.SaveState(ctx, form)
	switch {
	case err == nil:
		// restarting
		w.enter(types.StageRestarting)
		if rerr := w.client.RestartServer(ctx); rerr != nil {
			w.failed(ctx, types.StageRestarting, rerr)
			carried = &RestartError{Cause: rerr}
		}
	case stateclient.IsDomain(err):
		w.failed(ctx, types.StageSaving, err)
		carried = err
	default:
		w.failed(ctx, types.StageSaving, err)
		return failure(err)
	}

	// refreshing
	w.enter(types.StageRefreshing)
	fresh, err := w.client.FetchState(ctx)
	if err != nil && !stateclient.IsDomain(err) {
		w.failed(ctx, types.StageRefreshing, err)
		return failure(err)
	}
	if carried != nil {
		return types.WorkflowResult{State: fresh.WithError(messageOf(carried)), Err: carried}
	}
	// sin error arrastrado, el error propio del snapshot (si lo hay) es el que vale
	return types.WorkflowResult{State: fresh, Err: err}
}

func (w *SaveWorkflow) enter(s types.Stage) {
	w.mu.Lock()
	w.stage = s
	w.mu.Unlock()
	if w.opts.OnStage != nil {
		w.opts.OnStage(s)
	}
}

func (w *SaveWorkflow) failed(ctx context.Context, s types.Stage, err error) {
	metrics.WorkflowStageFailures.WithLabelValues(string(s)).Inc()
	logger.From(ctx).Warn("stage failed", logger.Stage(string(s)), logger.Err(err))
}

// failure arma el resultado de una corrida cortada: no hay snapshot, sólo el error.
func failure(err error) types.WorkflowResult {
	return types.WorkflowResult{State: types.ServerState{Error: stateclient.Message(err)}, Err: err}
}

func messageOf(err error) string {
	var re *RestartError
	if errors.As(err, &re) {
		return re.Error()
	}
	return stateclient.Message(err)
}

func isRestart(err error) bool {
	var re *RestartError
	return errors.As(err, &re)
}

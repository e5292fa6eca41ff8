// Package presenter es el borde entre el núcleo y la pantalla.
//
// Recibe las intenciones del usuario (cargar, guardar el formulario, resolver una
// acción), las pasa al workflow o al reconciliador y traduce los resultados a
// llamadas sobre un Renderer. No lee nada de vuelta de la pantalla.
package presenter

import (
	"context"
	"errors"

	"github.com/dropDatabas3/kphconsole/internal/actions"
	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
	"github.com/dropDatabas3/kphconsole/internal/validation"
	"github.com/dropDatabas3/kphconsole/internal/workflow"
)

// Renderer es lo que el presenter necesita de la pantalla.
type Renderer interface {
	RenderForm(config map[string]string)
	// SetErrorBanner muestra message; "" oculta el banner.
	SetErrorBanner(message string)
	SetServerStatus(running bool)
	AddActionCard(action types.PendingAction)
	RemoveActionCard(id string)
}

type Presenter struct {
	client   stateclient.Client
	workflow *workflow.SaveWorkflow
	queue    *actions.Reconciler
	view     Renderer
}

func New(client stateclient.Client, wf *workflow.SaveWorkflow, queue *actions.Reconciler, view Renderer) *Presenter {
	return &Presenter{client: client, workflow: wf, queue: queue, view: view}
}

// Load trae el estado y lo muestra. Un error de dominio se muestra en el banner junto
// con el snapshot; una falla de red sólo en el banner.
func (p *Presenter) Load(ctx context.Context) error {
	st, err := p.client.FetchState(ctx)
	if err != nil && !stateclient.IsDomain(err) {
		p.view.SetErrorBanner(stateclient.Message(err))
		return err
	}
	p.Show(st)
	return nil
}

// Submit valida el formulario y corre save→restart→refresh.
func (p *Presenter) Submit(ctx context.Context, form map[string]string) (types.WorkflowResult, error) {
	if err := validation.Form(form); err != nil {
		p.view.SetErrorBanner(err.Error())
		return types.WorkflowResult{}, err
	}
	res, err := p.workflow.Run(ctx, form)
	if err != nil {
		p.view.SetErrorBanner(err.Error())
		return res, err
	}
	p.Show(res.State)
	return res, nil
}

// Resolve aprueba o descarta una acción visible. Un id que ya no está es un no-op.
func (p *Presenter) Resolve(ctx context.Context, id string, approve bool, extra map[string]string) error {
	if _, ok := p.queue.Get(id); !ok {
		logger.From(ctx).Debug("resolve on missing card", logger.ActionID(id))
		return nil
	}
	if approve {
		if err := validation.Approval(extra); err != nil {
			p.view.SetErrorBanner(err.Error())
			return err
		}
	}
	removed, err := p.queue.Resolve(ctx, id, approve, extra)
	if err != nil {
		p.view.SetErrorBanner(stateclient.Message(err))
		return err
	}
	if removed {
		p.view.RemoveActionCard(id)
	}
	p.view.SetErrorBanner("")
	return nil
}

// Show vuelca un snapshot en la pantalla. Un estado sin snapshot (sólo error) sólo
// toca el banner; el formulario y la cola quedan como estaban.
func (p *Presenter) Show(st types.ServerState) {
	p.view.SetErrorBanner(st.Error)
	if !st.HasSnapshot() {
		return
	}

	form := make(map[string]string, len(st.Config))
	for k, v := range st.Config {
		if v != "" {
			form[k] = v
		}
	}
	p.view.RenderForm(form)

	diff := p.queue.Reconcile(st.Actions)
	for _, id := range diff.ToRemove {
		p.view.RemoveActionCard(id)
	}
	for _, a := range diff.ToAdd {
		p.view.AddActionCard(a)
	}
	p.view.SetServerStatus(st.ServerRunning)
}

// Pending expone la cola visible (para listar en la CLI).
func (p *Presenter) Pending() []types.PendingAction {
	return p.queue.Pending()
}

// IsBusy reporta si err es el rechazo por guardado en curso.
func IsBusy(err error) bool {
	return errors.Is(err, workflow.ErrRunInFlight)
}

// Package actions mantiene la cola de acciones pendientes que se le muestra al usuario.
//
// El Reconciler guarda el "render set" (ids con tarjeta visible, en orden) y calcula
// qué agregar y qué sacar cuando llega un snapshot nuevo. Resolver una acción la saca
// del render set apenas el servidor confirma, sin esperar al próximo snapshot.
package actions

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/metrics"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
)

// Diff es lo que hay que cambiar en pantalla tras un snapshot.
type Diff struct {
	ToAdd    []types.PendingAction
	ToRemove []string
}

func (d Diff) Empty() bool { return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 }

type Options struct {
	// TombstoneTTL: cuánto se recuerda una acción resuelta. 0 deshabilita.
	TombstoneTTL time.Duration
}

type Reconciler struct {
	client stateclient.Client

	mu    sync.Mutex
	order []string
	shown map[string]types.PendingAction

	// ids resueltos hace poco; un snapshot atrasado no los vuelve a agregar
	tombstones *gocache.Cache
}

func New(client stateclient.Client, opts Options) *Reconciler {
	r := &Reconciler{
		client: client,
		shown:  map[string]types.PendingAction{},
	}
	if opts.TombstoneTTL > 0 {
		r.tombstones = gocache.New(opts.TombstoneTTL, 2*opts.TombstoneTTL)
	}
	return r
}

// Reconcile compara el snapshot con el render set y lo actualiza.
// Las altas respetan el orden del servidor y van al final; lo ya visible no se reordena.
func (r *Reconciler) Reconcile(incoming []types.PendingAction) Diff {
	log := logger.Named("actions")

	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]bool, len(incoming))
	var diff Diff
	for _, a := range incoming {
		if !a.Type.Renderable() {
			log.Debug("ignoring action without card", logger.ActionID(a.ID), logger.ActionType(string(a.Type)))
			continue
		}
		if a.ID == "" || keep[a.ID] || r.tombstoned(a.ID) {
			continue
		}
		keep[a.ID] = true
		if _, ok := r.shown[a.ID]; !ok {
			diff.ToAdd = append(diff.ToAdd, a)
		}
	}

	order := r.order[:0:0]
	for _, id := range r.order {
		if keep[id] {
			order = append(order, id)
			continue
		}
		diff.ToRemove = append(diff.ToRemove, id)
		delete(r.shown, id)
	}
	for _, a := range diff.ToAdd {
		order = append(order, a.ID)
		r.shown[a.ID] = a
	}
	r.order = order
	metrics.PendingActions.Set(float64(len(r.order)))
	return diff
}

// Resolve aprueba (approve=true, con extra) o descarta una acción.
// Si el id no está en el render set es un no-op: retorna false sin llamar al servidor.
// Si el servidor confirma, el id sale del render set y retorna true (false si otro
// Resolve concurrente ya lo sacó). Si el servidor ya no la tiene (ErrStaleAction) se
// trata igual que una confirmación. Si falla, la acción queda donde estaba y se
// retorna el error; no hay reintento.
func (r *Reconciler) Resolve(ctx context.Context, id string, approve bool, extra map[string]string) (bool, error) {
	log := logger.From(ctx).With(logger.Component("actions"), logger.ActionID(id))
	if _, ok := r.Get(id); !ok {
		log.Debug("resolve ignored, action not pending")
		return false, nil
	}

	verb := "deny"
	var payload map[string]string
	if approve {
		verb = "approve"
		payload = make(map[string]string, len(extra))
		for k, v := range extra {
			payload[k] = v
		}
	}
	result := "ok"
	if err := r.client.ResolveAction(ctx, id, payload); err != nil {
		if !errors.Is(err, stateclient.ErrStaleAction) {
			metrics.ActionResolutions.WithLabelValues(verb, "error").Inc()
			log.Warn("resolve failed", logger.Op(verb), logger.Err(err))
			return false, err
		}
		// ya resuelta en el servidor: se saca igual
		result = "stale"
	}
	metrics.ActionResolutions.WithLabelValues(verb, result).Inc()

	r.mu.Lock()
	removed := r.removeLocked(id)
	if r.tombstones != nil {
		r.tombstones.SetDefault(id, struct{}{})
	}
	metrics.PendingActions.Set(float64(len(r.order)))
	r.mu.Unlock()

	log.Info("action resolved", logger.Op(verb), logger.Outcome(result))
	return removed, nil
}

// Pending retorna las acciones visibles en orden de pantalla.
func (r *Reconciler) Pending() []types.PendingAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PendingAction, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.shown[id])
	}
	return out
}

// Get retorna la acción visible con ese id.
func (r *Reconciler) Get(id string) (types.PendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.shown[id]
	return a, ok
}

func (r *Reconciler) removeLocked(id string) bool {
	if _, ok := r.shown[id]; !ok {
		return false
	}
	delete(r.shown, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Reconciler) tombstoned(id string) bool {
	if r.tombstones == nil {
		return false
	}
	_, ok := r.tombstones.Get(id)
	return ok
}

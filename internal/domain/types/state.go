// Package types define los tipos de dominio compartidos entre paquetes:
// el snapshot del servidor, las acciones pendientes y el resultado del pipeline de guardado.
package types

// ActionType identifica el tipo de una acción pendiente.
// Es un enum abierto: el servidor puede mandar tipos que este cliente no conoce.
type ActionType string

const (
	// ActionAssociate es un pedido de asociación de un cliente nuevo.
	ActionAssociate ActionType = "associate"
)

// Renderable retorna true si existe una tarjeta para este tipo de acción.
func (t ActionType) Renderable() bool {
	switch t {
	case ActionAssociate:
		return true
	}
	return false
}

// PendingAction es un pedido externo esperando aprobación del usuario.
type PendingAction struct {
	ID     string     `json:"id"`
	Type   ActionType `json:"type"`
	Date   string     `json:"date"`
	Client string     `json:"client"`
}

// ServerState es el snapshot autoritativo que devuelve el servidor en cada fetch/save.
// Se trata como inmutable: se reemplaza entero, nunca se muta en el lugar.
type ServerState struct {
	Config        map[string]string `json:"config"`
	Actions       []PendingAction   `json:"actions"`
	ServerRunning bool              `json:"server_running"`
	Error         string            `json:"error,omitempty"`
}

// WithError retorna una copia del snapshot con el error reemplazado.
// Config y Actions se copian para que el original siga intacto.
func (s ServerState) WithError(msg string) ServerState {
	out := s
	if s.Config != nil {
		out.Config = make(map[string]string, len(s.Config))
		for k, v := range s.Config {
			out.Config[k] = v
		}
	}
	if s.Actions != nil {
		out.Actions = append([]PendingAction(nil), s.Actions...)
	}
	out.Error = msg
	return out
}

// HasSnapshot es false para estados sintetizados sólo para mostrar un error
// (ej: el guardado falló por red y no hubo snapshot del servidor).
func (s ServerState) HasSnapshot() bool {
	return s.Config != nil || s.Actions != nil
}

// Stage es el estado del pipeline save→restart→refresh.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageSaving     Stage = "saving"
	StageRestarting Stage = "restarting"
	StageRefreshing Stage = "refreshing"
	StageDone       Stage = "done"
)

// WorkflowResult es el valor terminal de una corrida del pipeline.
// State siempre está presente; Err indica que alguna etapa falló y su mensaje
// también queda en State.Error para mostrarlo.
type WorkflowResult struct {
	State ServerState
	Err   error
}

// Message retorna el mensaje a mostrar, o "" si la corrida terminó limpia.
func (r WorkflowResult) Message() string {
	return r.State.Error
}

// OK es true si ninguna etapa reportó error.
func (r WorkflowResult) OK() bool {
	return r.Err == nil && r.State.Error == ""
}

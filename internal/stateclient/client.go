// Package stateclient habla con el backend KeePassHTTP: leer y guardar el estado,
// reiniciar el servicio y resolver acciones pendientes.
//
// Cada operación es independiente y puede fallar; no hay reintentos ni timeouts propios.
package stateclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/metrics"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
)

// Endpoints del backend.
const (
	PathState        = "/state"
	PathRestart      = "/restart_keepass_http"
	PathAction       = "/action"
	PathDeleteAction = "/delete_action"
)

// Operaciones, usadas en logs y métricas.
const (
	OpFetchState = "fetch_state"
	OpSaveState  = "save_state"
	OpRestart    = "restart"
	OpApprove    = "approve_action"
	OpDeny       = "deny_action"
)

// maxBody limita lo que se lee de una respuesta (1MB).
const maxBody = 1 << 20

// Client es el contrato remoto que usan el workflow y el reconciliador.
type Client interface {
	FetchState(ctx context.Context) (types.ServerState, error)
	// SaveState guarda los campos editados. Si el servidor responde con `error`,
	// retorna el estado recibido junto con un *DomainError.
	SaveState(ctx context.Context, config map[string]string) (types.ServerState, error)
	RestartServer(ctx context.Context) error
	// ResolveAction aprueba (extra != nil) o descarta (extra == nil) una acción.
	// Si el servidor ya no la tiene (404) retorna un error que envuelve ErrStaleAction.
	ResolveAction(ctx context.Context, id string, extra map[string]string) error
}

// HTTPClient implementa Client sobre net/http.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// New crea un cliente. timeout 0 = sin timeout.
func New(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FetchState(ctx context.Context) (types.ServerState, error) {
	status, body, err := c.do(ctx, OpFetchState, http.MethodGet, PathState, nil)
	if err != nil {
		return types.ServerState{}, err
	}
	return decodeState(status, body)
}

func (c *HTTPClient) SaveState(ctx context.Context, config map[string]string) (types.ServerState, error) {
	if config == nil {
		config = map[string]string{}
	}
	status, body, err := c.do(ctx, OpSaveState, http.MethodPost, PathState, config)
	if err != nil {
		return types.ServerState{}, err
	}
	return decodeState(status, body)
}

func (c *HTTPClient) RestartServer(ctx context.Context) error {
	status, body, err := c.do(ctx, OpRestart, http.MethodPost, PathRestart, nil)
	if err != nil {
		return err
	}
	return decodeAck(status, body)
}

func (c *HTTPClient) ResolveAction(ctx context.Context, id string, extra map[string]string) error {
	op, path := OpApprove, PathAction
	payload := map[string]string{}
	if extra == nil {
		op, path = OpDeny, PathDeleteAction
	}
	for k, v := range extra {
		payload[k] = v
	}
	payload["id"] = id

	status, body, err := c.do(ctx, op, http.MethodPost, path, payload)
	if err != nil {
		var ne *NetworkError
		if errors.As(err, &ne) && ne.Status == http.StatusNotFound {
			return fmt.Errorf("%s: %w", id, ErrStaleAction)
		}
		return err
	}
	return decodeAck(status, body)
}

// do ejecuta el request. Sólo retorna error para fallas de transporte o status no-2xx;
// la interpretación del body queda para decodeState/decodeAck.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	start := time.Now()
	rid := uuid.NewString()
	log := logger.From(ctx).With(logger.Op(op), logger.Method(method), logger.Path(path), logger.RequestID(rid))

	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return 0, nil, &NetworkError{Message: err.Error()}
	}
	req.Header.Set("X-Request-ID", rid)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.ObserveRequest(op, "network_error", time.Since(start))
		log.Debug("backend call failed", logger.Err(err), logger.Duration(time.Since(start)))
		return 0, nil, &NetworkError{Message: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		metrics.ObserveRequest(op, "network_error", time.Since(start))
		return resp.StatusCode, nil, &NetworkError{Status: resp.StatusCode, Message: "read body: " + err.Error()}
	}

	log = log.With(logger.Status(resp.StatusCode), logger.Duration(time.Since(start)))
	if resp.StatusCode/100 != 2 {
		metrics.ObserveRequest(op, "network_error", time.Since(start))
		log.Debug("backend call rejected")
		return resp.StatusCode, body, &NetworkError{Status: resp.StatusCode, Message: statusMessage(resp.StatusCode, body)}
	}
	result := "ok"
	if hasDomainError(body) {
		result = "domain_error"
	}
	metrics.ObserveRequest(op, result, time.Since(start))
	log.Debug("backend call finished", logger.Outcome(result))
	return resp.StatusCode, body, nil
}

// wireState tolera valores no-string en config y un `error` de cualquier tipo.
type wireState struct {
	Config        map[string]any        `json:"config"`
	Actions       []types.PendingAction `json:"actions"`
	ServerRunning bool                  `json:"server_running"`
	Error         any                   `json:"error"`
}

func decodeState(status int, body []byte) (types.ServerState, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return types.ServerState{}, &NetworkError{Status: status, Message: "empty response"}
	}
	// sólo un objeto JSON es un estado; null, arrays o escalares no
	var w *wireState
	if err := json.Unmarshal(body, &w); err != nil {
		return types.ServerState{}, &NetworkError{Status: status, Message: "invalid response: " + err.Error()}
	}
	if w == nil {
		return types.ServerState{}, &NetworkError{Status: status, Message: "empty response"}
	}
	st := types.ServerState{
		Config:        make(map[string]string, len(w.Config)),
		Actions:       w.Actions,
		ServerRunning: w.ServerRunning,
		Error:         errorText(w.Error),
	}
	for k, v := range w.Config {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			st.Config[k] = s
			continue
		}
		st.Config[k] = fmt.Sprint(v)
	}
	if st.Error != "" {
		return st, &DomainError{Message: st.Error}
	}
	return st, nil
}

// decodeAck acepta un body vacío como acuse; si hay body, tiene que ser JSON sin `error`.
func decodeAck(status int, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return &NetworkError{Status: status, Message: "invalid response: " + err.Error()}
	}
	if v == nil {
		return &NetworkError{Status: status, Message: "empty response"}
	}
	if m, ok := v.(map[string]any); ok {
		if msg := errorText(m["error"]); msg != "" {
			return &DomainError{Message: msg}
		}
	}
	return nil
}

func hasDomainError(body []byte) bool {
	var probe struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	return errorText(probe.Error) != ""
}

// errorText convierte el campo `error` en texto; falsy (nil, "", false, 0) es "".
func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case bool:
		if e {
			return "unknown server error"
		}
		return ""
	case float64:
		if e == 0 {
			return ""
		}
		return fmt.Sprint(e)
	default:
		return fmt.Sprint(e)
	}
}

func statusMessage(status int, body []byte) string {
	var probe struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil {
		if msg := errorText(probe.Error); msg != "" {
			return msg
		}
	}
	if t := http.StatusText(status); t != "" {
		return strings.ToLower(t)
	}
	return "request failed"
}

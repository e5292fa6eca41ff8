package presenter

import (
	"fmt"
	"io"
	"maps"
	"sort"
	"sync"

	"github.com/fatih/color"

	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/util"
)

var (
	colorError   = color.New(color.FgRed, color.Bold)
	colorRunning = color.New(color.FgGreen)
	colorStopped = color.New(color.FgYellow)
	colorCard    = color.New(color.FgCyan, color.Bold)
)

// TerminalRenderer imprime la pantalla como texto. Es seguro para uso concurrente.
// El formulario y el estado del servidor sólo se reimprimen si cambiaron, así el
// polling de `watch` no repite la pantalla entera en cada vuelta.
type TerminalRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	banner   string
	form     map[string]string
	running  bool
	statusOK bool
}

var _ Renderer = (*TerminalRenderer)(nil)

func NewTerminalRenderer(out io.Writer) *TerminalRenderer {
	return &TerminalRenderer{out: out}
}

func (t *TerminalRenderer) RenderForm(config map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.form != nil && maps.Equal(t.form, config) {
		return
	}
	t.form = maps.Clone(config)
	if t.form == nil {
		t.form = map[string]string{}
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(t.out, "Configuration")
	for _, k := range keys {
		fmt.Fprintf(t.out, "  %-20s %s\n", k, util.MaskValue(k, config[k]))
	}
}

func (t *TerminalRenderer) SetErrorBanner(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if message == t.banner {
		return
	}
	t.banner = message
	if message != "" {
		colorError.Fprintf(t.out, "Error: %s\n", message)
	}
}

// Banner retorna el mensaje visible ("" si no hay).
func (t *TerminalRenderer) Banner() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.banner
}

func (t *TerminalRenderer) SetServerStatus(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusOK && t.running == running {
		return
	}
	t.running, t.statusOK = running, true
	if running {
		colorRunning.Fprintln(t.out, "Server Running")
		return
	}
	colorStopped.Fprintln(t.out, "Server Stopped")
}

func (t *TerminalRenderer) AddActionCard(a types.PendingAction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch a.Type {
	case types.ActionAssociate:
		colorCard.Fprintln(t.out, "New Client Association Request")
		fmt.Fprintf(t.out, "  id   %s\n", a.ID)
		fmt.Fprintf(t.out, "  date %s\n", a.Date)
		fmt.Fprintf(t.out, "  Client Key : %s\n", a.Client)
	}
}

func (t *TerminalRenderer) RemoveActionCard(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Request %s closed\n", id)
}

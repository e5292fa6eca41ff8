package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/kphconsole/internal/devserver"
	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/presenter"
	"github.com/dropDatabas3/kphconsole/internal/validation"
)

// state: GET /state y mostrarlo
func stateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Mostrar configuración, estado del servidor y pedidos pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.presenter.Load(cmd.Context()); err != nil {
				return errShown
			}
			return nil
		},
	}
}

// save: parte de la config actual, pisa con --set y corre save→restart→refresh
func saveCmd(a *app) *cobra.Command {
	var sets []string
	var only bool
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Guardar cambios de configuración y reiniciar el servidor",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseKV(sets)
			if err != nil {
				return err
			}
			form := map[string]string{}
			if !only {
				st, err := a.client.FetchState(cmd.Context())
				if err != nil && st.Config == nil {
					return fmt.Errorf("leer config actual: %w", err)
				}
				for k, v := range st.Config {
					form[k] = v
				}
			}
			for k, v := range overrides {
				form[k] = v
			}
			res, err := a.presenter.Submit(cmd.Context(), form)
			if presenter.IsBusy(err) {
				return err
			}
			if err != nil || !res.OK() {
				return errShown
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "campo=valor (repetible)")
	cmd.Flags().BoolVar(&only, "only", false, "enviar sólo los campos de --set")
	return cmd
}

// actions: listar la cola
func actionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "Listar pedidos pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.presenter.Load(cmd.Context()); err != nil {
				return errShown
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending\n", len(a.presenter.Pending()))
			return nil
		},
	}
}

func approveCmd(a *app) *cobra.Command {
	var data string
	var sets []string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Aprobar un pedido de asociación",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseKV(sets)
			if err != nil {
				return err
			}
			extra[validation.FieldData] = data
			return a.resolve(cmd, args[0], true, extra)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "nombre para el cliente (requerido)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "campo=valor extra (repetible)")
	return cmd
}

func denyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deny <id>",
		Short: "Rechazar un pedido de asociación",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd, args[0], false, nil)
		},
	}
}

func (a *app) resolve(cmd *cobra.Command, id string, approve bool, extra map[string]string) error {
	ctx := cmd.Context()
	if err := a.presenter.Load(ctx); err != nil {
		return errShown
	}
	if _, ok := a.queue.Get(id); !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "no pending request %s\n", id)
		return nil
	}
	if err := a.presenter.Resolve(ctx, id, approve, extra); err != nil {
		return errShown
	}
	return nil
}

// watch: polling de /state; la cola se reconcilia en cada vuelta
func watchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Seguir el estado del servidor y los pedidos nuevos",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = a.cfg.WatchInterval()
			}
			log := logger.Named("watch")
			g, ctx := errgroup.WithContext(cmd.Context())

			if addr := a.cfg.Metrics.Addr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				g.Go(func() error { return serve(ctx, addr, mux) })
				log.Info("metrics enabled", logger.Addr(addr))
			}

			g.Go(func() error {
				t := time.NewTicker(interval)
				defer t.Stop()
				for {
					// las fallas quedan en el banner; el polling sigue
					_ = a.presenter.Load(ctx)
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
					}
				}
			})
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "intervalo de polling (default: watch.interval)")
	return cmd
}

// devserver: backend en memoria para desarrollo
func devserverCmd(a *app) *cobra.Command {
	var addr string
	var seed int
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Levantar un backend KeePassHTTP en memoria",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.DevServer.Addr
			}
			srv := devserver.New()
			for i := 0; i < seed; i++ {
				srv.AddAction(types.ActionAssociate, fmt.Sprintf("dev-client-%02d", i+1))
			}
			logger.L().Info("devserver listening", logger.Addr(addr))
			fmt.Fprintf(cmd.ErrOrStderr(), "devserver listening on %s\n", addr)
			return serve(cmd.Context(), addr, srv.Handler())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "dirección de escucha (default: devserver.addr)")
	cmd.Flags().IntVar(&seed, "seed", 0, "pedidos de asociación de ejemplo")
	return cmd
}

// serve corre h hasta que ctx se cancele.
func serve(ctx context.Context, addr string, h http.Handler) error {
	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// parseKV convierte ["k=v", ...] en un mapa. Valores vacíos están permitidos.
func parseKV(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, it := range items {
		i := strings.IndexRune(it, '=')
		if i <= 0 {
			return nil, fmt.Errorf("formato inválido %q (esperado campo=valor)", it)
		}
		k := strings.TrimSpace(it[:i])
		if !validation.ValidFieldName(k) {
			return nil, fmt.Errorf("campo inválido %q", k)
		}
		out[k] = it[i+1:]
	}
	return out, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/kphconsole/internal/actions"
	"github.com/dropDatabas3/kphconsole/internal/config"
	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/metrics"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/presenter"
	"github.com/dropDatabas3/kphconsole/internal/stateclient"
	"github.com/dropDatabas3/kphconsole/internal/workflow"
)

// errShown: el error ya quedó en pantalla (banner), sólo hay que salir con 1.
var errShown = errors.New("shown")

// app agrupa lo que arma PersistentPreRunE para los subcomandos.
type app struct {
	cfg       *config.Config
	client    *stateclient.HTTPClient
	queue     *actions.Reconciler
	view      *presenter.TerminalRenderer
	presenter *presenter.Presenter
}

func main() {
	var (
		cfgPath  = envOr("KPH_CONFIG", "kphconsole.yaml")
		envFile  = ".env"
		server   string
		logLevel string
		verbose  bool
		a        = &app{}
	)

	root := &cobra.Command{
		Use:           "kphconsole",
		Short:         "Consola de configuración para un servidor KeePassHTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err == nil {
					fmt.Fprintf(os.Stderr, "dotenv: cargado %s\n", envFile)
				}
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Server.BaseURL = strings.TrimRight(server, "/")
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:       cfg.App.Env,
				Level:     cfg.Log.Level,
				Component: "kphconsole",
				Quiet:     !verbose,
			})
			if err := metrics.Register(nil); err != nil {
				return err
			}
			a.wire(cfg)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta a kphconsole.yaml (env KPH_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (si existe, se carga)")
	root.PersistentFlags().StringVar(&server, "server", "", "URL base del servidor (pisa KPH_SERVER_URL)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "logs en stderr desde el nivel configurado")

	root.AddCommand(
		stateCmd(a),
		saveCmd(a),
		actionsCmd(a),
		approveCmd(a),
		denyCmd(a),
		watchCmd(a),
		devserverCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		if !errors.Is(err, errShown) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

func (a *app) wire(cfg *config.Config) {
	a.cfg = cfg
	a.client = stateclient.New(cfg.Server.BaseURL, cfg.HTTPTimeout())
	a.queue = actions.New(a.client, actions.Options{TombstoneTTL: cfg.TombstoneTTL()})
	a.view = presenter.NewTerminalRenderer(os.Stdout)
	wf := workflow.New(a.client, workflow.Options{OnStage: func(s types.Stage) {
		switch s {
		case types.StageSaving, types.StageRestarting, types.StageRefreshing:
			fmt.Fprintf(os.Stderr, "%s...\n", s)
		}
	}})
	a.presenter = presenter.New(a.client, wf, a.queue, a.view)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

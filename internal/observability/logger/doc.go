// Package logger provee un logger Zap singleton con scoping por contexto.
//
// Inicialización (una vez en main):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.Log.Env,   // "dev" o "prod"
//	    Level: cfg.Log.Level, // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// Con contexto:
//
//	log := logger.From(ctx)
//	log.Info("save finished", logger.Stage("done"), logger.Outcome("ok"))
//
// Sin contexto:
//
//	logger.L().Info("watch started")
package logger

package logger

import (
	"time"

	"go.uber.org/zap"
)

// ---- HTTP ----

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration se loguea en milisegundos para que sea comparable entre dev y prod.
func Duration(v time.Duration) zap.Field { return zap.Int64("duration_ms", v.Milliseconds()) }

// ---- Sincronización ----

// Op es la operación remota: fetch_state, save_state, restart, resolve_action.
func Op(v string) zap.Field { return zap.String("op", v) }

// Stage es la etapa del pipeline save→restart→refresh.
func Stage(v string) zap.Field { return zap.String("stage", v) }

// Outcome resume el resultado de una corrida u operación.
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

func ActionID(v string) zap.Field { return zap.String("action_id", v) }

func ActionType(v string) zap.Field { return zap.String("action_type", v) }

func Component(v string) zap.Field { return zap.String("component", v) }

// Form loguea el formulario enviado (pasarlo por util.MaskConfig antes).
func Form(v map[string]string) zap.Field { return zap.Any("form", v) }

// Field crea un campo para un valor del formulario (pasarlo por util.MaskValue antes).
func Field(name, value string) zap.Field { return zap.String("field."+name, value) }

func Err(err error) zap.Field { return zap.Error(err) }

// ErrMsg es el mensaje que se le muestra al usuario (puede estar vacío).
func ErrMsg(v string) zap.Field { return zap.String("error_message", v) }

func Addr(v string) zap.Field { return zap.String("addr", v) }

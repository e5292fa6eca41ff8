package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	// Server es el backend KeePassHTTP cuyo estado se sincroniza.
	Server struct {
		BaseURL string `yaml:"base_url"`
		// Timeout del http.Client. Vacío/0 = sin timeout (una llamada colgada cuelga la etapa).
		Timeout string `yaml:"timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Actions struct {
		// TombstoneTTL: cuánto se recuerda una acción resuelta para no volver a mostrarla
		// si un snapshot viejo todavía la lista.
		TombstoneTTL string `yaml:"tombstone_ttl"`
	} `yaml:"actions"`

	Watch struct {
		Interval string `yaml:"interval"`
	} `yaml:"watch"`

	Metrics struct {
		// Addr donde `watch` expone /metrics. Vacío = deshabilitado.
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	DevServer struct {
		Addr string `yaml:"addr"`
	} `yaml:"devserver"`
}

// Default retorna la configuración con defaults, sin archivo ni env.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load lee path (si existe), aplica defaults y luego overrides de env.
// Un path vacío o inexistente no es error: quedan defaults + env.
// No valida: el caller aplica sus propios overrides (flags) y después llama Validate.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	c.setDefaults()
	c.applyEnvOverrides()
	return &c, nil
}

// sane defaults
func (c *Config) setDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:19455"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Actions.TombstoneTTL == "" {
		c.Actions.TombstoneTTL = "30s"
	}
	if c.Watch.Interval == "" {
		c.Watch.Interval = "5s"
	}
	if c.DevServer.Addr == "" {
		c.DevServer.Addr = "127.0.0.1:19455"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("KPH_SERVER_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("KPH_HTTP_TIMEOUT"); ok {
		c.Server.Timeout = v
	}
	if v, ok := getEnvStr("KPH_TOMBSTONE_TTL"); ok {
		c.Actions.TombstoneTTL = v
	}
	if v, ok := getEnvStr("KPH_WATCH_INTERVAL"); ok {
		c.Watch.Interval = v
	}
	if v, ok := getEnvStr("KPH_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := getEnvStr("KPH_DEVSERVER_ADDR"); ok {
		c.DevServer.Addr = v
	}
}

// Validate chequea URL y duraciones.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: server.base_url inválida: %q", c.Server.BaseURL)
	}
	for name, v := range map[string]string{
		"server.timeout":        c.Server.Timeout,
		"actions.tombstone_ttl": c.Actions.TombstoneTTL,
		"watch.interval":        c.Watch.Interval,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("config: %s inválido: %q", name, v)
		}
	}
	if d, _ := time.ParseDuration(c.Watch.Interval); d == 0 {
		return fmt.Errorf("config: watch.interval debe ser > 0")
	}
	return nil
}

// HTTPTimeout retorna el timeout del cliente HTTP (0 = sin timeout).
func (c *Config) HTTPTimeout() time.Duration {
	return parseDur(c.Server.Timeout, 0)
}

func (c *Config) TombstoneTTL() time.Duration {
	return parseDur(c.Actions.TombstoneTTL, 30*time.Second)
}

func (c *Config) WatchInterval() time.Duration {
	return parseDur(c.Watch.Interval, 5*time.Second)
}

func parseDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
		return d
	}
	return def
}

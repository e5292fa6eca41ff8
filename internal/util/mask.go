package util

import "strings"

// secretMarkers son fragmentos de nombre de campo que indican un valor sensible.
var secretMarkers = []string{"password", "passwd", "secret", "key", "token"}

// IsSecretField retorna true si el nombre del campo sugiere un valor sensible
// (ej: "password", "keepass_key", "client_key").
func IsSecretField(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, m := range secretMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return false
}

// MaskValue enmascara v si el campo es sensible. Deja el primer y último carácter
// para poder reconocer el valor sin exponerlo.
func MaskValue(field, v string) string {
	if !IsSecretField(field) {
		return v
	}
	return mask(v)
}

func mask(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) <= 3 {
		return "***"
	}
	return v[:1] + "…" + v[len(v)-1:]
}

// MaskConfig retorna una copia del mapa con los valores sensibles enmascarados.
func MaskConfig(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[k] = MaskValue(k, v)
	}
	return out
}

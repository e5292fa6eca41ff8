package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Field name rules:
// - Start with a letter.
// - Letters, digits, '_' , '-' and '.' after that.
// - Length 1..64.
var fieldNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\.-]{0,63}$`)

// FieldDB es el campo del formulario con la ruta a la base KeePass.
const FieldDB = "keepass_db"

// FieldData es el campo requerido al aprobar una acción.
const FieldData = "data"

// RequiredFields son los campos que el formulario de configuración no acepta vacíos.
var RequiredFields = []string{FieldDB}

// ErrEmptyForm se retorna cuando no hay nada que guardar.
var ErrEmptyForm = errors.New("form is empty")

// FieldError describe un campo inválido.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidFieldName returns true if the name can be sent as a form field.
func ValidFieldName(name string) bool {
	return fieldNameRe.MatchString(name)
}

// Form valida el formulario de configuración antes de guardarlo.
// Reporta el primer error en orden alfabético de campo para que sea estable.
func Form(values map[string]string) error {
	if len(values) == 0 {
		return ErrEmptyForm
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if !ValidFieldName(k) {
			return &FieldError{Field: k, Reason: "invalid field name"}
		}
	}
	for _, k := range RequiredFields {
		if strings.TrimSpace(values[k]) == "" {
			return &FieldError{Field: k, Reason: "must not be empty"}
		}
	}
	return nil
}

// Approval valida los datos extra que acompañan una aprobación.
func Approval(extra map[string]string) error {
	if strings.TrimSpace(extra[FieldData]) == "" {
		return &FieldError{Field: FieldData, Reason: "must not be empty"}
	}
	for k := range extra {
		if k == "id" {
			return &FieldError{Field: k, Reason: "reserved"}
		}
		if !ValidFieldName(k) {
			return &FieldError{Field: k, Reason: "invalid field name"}
		}
	}
	return nil
}

package stateclient

import (
	"errors"
	"fmt"
)

// NetworkError es una falla de transporte o HTTP sin body utilizable.
// Status es 0 cuando no hubo respuesta.
type NetworkError struct {
	Status  int
	Message string
}

func (e *NetworkError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// DomainError es una respuesta bien formada cuyo campo `error` no está vacío.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// ErrStaleAction indica que se intentó resolver una acción que el servidor ya no tiene
// (otra resolución llegó antes). El reconciliador lo trata como éxito: nunca llega al usuario.
var ErrStaleAction = errors.New("action no longer pending")

// IsNetwork verifica si err es (o envuelve) un *NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsDomain verifica si err es (o envuelve) un *DomainError.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// Message retorna el texto a mostrar para err: el mensaje del servidor para errores
// de dominio, el de transporte para errores de red, o err.Error() para el resto.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Error()
	}
	return err.Error()
}

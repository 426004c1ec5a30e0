package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoArtifacts - провайдер ответил успехом, но без артефактов.
var ErrNoArtifacts = errors.New("provider returned no artifacts")

// Error - ошибка вызова провайдера с классификацией на транзиентную
// (имеет смысл повторить) и перманентную (повтор бесполезен).
type Error struct {
	Provider   string
	StatusCode int
	Msg        string
	Transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s error (status %d): %s", e.Provider, e.StatusCode, e.Msg)
}

// newStatusError классифицирует ошибку по HTTP-статусу: таймаут, троттлинг
// и серверные сбои - транзиентные; остальные 4xx (валидация, контентная
// политика) - перманентные.
func newStatusError(providerID string, status int, msg string) *Error {
	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
	return &Error{Provider: providerID, StatusCode: status, Msg: msg, Transient: transient}
}

// IsTransient сообщает, имеет ли смысл повторять вызов провайдера.
// Сетевые таймауты и истечение дедлайна тоже считаются транзиентными.
func IsTransient(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

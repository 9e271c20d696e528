package apperr

import (
	"errors"
	"net/http"
)

// Kind классифицирует ошибку для HTTP-ответа
type Kind int

const (
	KindInternal      Kind = iota // неизвестная ошибка, 500
	KindToken                     // невалидный токен, 401
	KindForbidden                 // токен выдан для другого RFQ, 403
	KindNotFound                  // 404
	KindValidation                // битый запрос, 400
	KindConflict                  // повторная/параллельная отправка, 409
	KindDataIntegrity             // испорченные данные в хранилище, 500
	KindConfiguration             // не настроен сервис, 500
)

// Error ошибка предметной области с кодом для клиента
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по коду, чтобы Wrap(ErrX, cause) оставался ErrX для errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap возвращает копию sentinel-ошибки с причиной
func Wrap(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: cause}
}

// KindOf достаёт Kind из цепочки ошибок
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status переводит ошибку в HTTP-статус
func Status(err error) int {
	switch KindOf(err) {
	case KindToken:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage текст для клиента; внутренние детали не раскрываются
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindInternal, KindDataIntegrity, KindConfiguration:
			if e.Message != "" {
				return e.Message
			}
			return "internal server error"
		}
		return e.Message
	}
	return "internal server error"
}

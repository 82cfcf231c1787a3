package main

import (
	"errors"
	"net/http"
)

// Ошибки ядра. Компоненты оборачивают их через fmt.Errorf("%w: ...").
var (
	// ErrUnauthorized — отсутствующий, просроченный или отозванный токен.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — валидный токен, но чужой ресурс.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound — запрошенный экземпляр ресурса отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument — некорректное поле, неизвестный тип блока или data_name.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict — дубликат username/email или повторно использованный refresh-токен.
	ErrConflict = errors.New("conflict")
)

// Коды конверта ответа. "0000" — успех, остальные — классы ошибок.
const (
	codeOK              = "0000"
	codeInvalidArgument = "C0001"
	codeUnauthorized    = "C0002"
	codeForbidden       = "C0003"
	codeNotFound        = "C0004"
	codeConflict        = "C0009"
	codeInternal        = "E0001"
)

// errorCode сопоставляет ошибку коду конверта и HTTP-статусу.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return codeInvalidArgument, http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return codeUnauthorized, http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return codeForbidden, http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return codeNotFound, http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return codeConflict, http.StatusConflict
	default:
		return codeInternal, http.StatusInternalServerError
	}
}

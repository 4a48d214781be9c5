package engine

import "fmt"

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// NotAuthenticatedError: no caller identity on the request.
func NotAuthenticatedError(msg string) *AppError {
	return &AppError{Code: "NOT_AUTHENTICATED", Status: 401, Message: msg}
}

// ForbiddenError: authenticated but lacking the required right.
func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

// InvalidInputError: malformed id, level, or payload.
func InvalidInputError(msg string) *AppError {
	return &AppError{Code: "INVALID_INPUT", Status: 422, Message: msg}
}

// NotFoundError: an operation referenced an id that must exist.
func NotFoundError(kind, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", kind, id),
	}
}

// StorageUnavailableError: the durable layer is not ready. Query paths
// degrade to "no permissions" instead of returning this; only mutations
// surface it.
func StorageUnavailableError(msg string) *AppError {
	return &AppError{Code: "STORAGE_UNAVAILABLE", Status: 503, Message: msg}
}

// HostUnavailableError: the host directory could not be reached or gave a
// bad answer. Distinct from the durable layer being down.
func HostUnavailableError(msg string) *AppError {
	return &AppError{Code: "HOST_UNAVAILABLE", Status: 502, Message: msg}
}

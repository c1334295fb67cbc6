package service

import "net/http"

// ServiceError carries the HTTP status a controller should answer with.
type ServiceError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) StatusCode() int {
	return e.Code
}

func (e *ServiceError) Payload() interface{} {
	return e.Data
}

func NewNotFoundError(msg string) *ServiceError {
	return &ServiceError{Code: http.StatusNotFound, Message: msg}
}

func NewBadRequestError(msg string) *ServiceError {
	return &ServiceError{Code: http.StatusBadRequest, Message: msg}
}

func NewForbiddenError(msg string) *ServiceError {
	return &ServiceError{Code: http.StatusForbidden, Message: msg}
}

package apperr

import (
	"encoding/json"
	"errors"
)

// CallRequest is the external invocation request shape.
type CallRequest struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
}

// CallResponse is the external envelope returned by the facade.
type CallResponse struct {
	Message    string          `json:"message"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// SuccessResponse builds the 200 envelope.
func SuccessResponse(data json.RawMessage) *CallResponse {
	return &CallResponse{
		Message:    "api call has been done",
		Status:     "success",
		StatusCode: Success.StatusCode(),
		Data:       data,
	}
}

// FromError builds the envelope for a failed call, classifying by Kind.
func FromError(err error) *CallResponse {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(InternalServerError, err.Error(), nil)
	}
	return &CallResponse{
		Message:    e.Message,
		Status:     "failed",
		StatusCode: e.Kind.StatusCode(),
	}
}

// ServiceRegisterRequest is the external registration request shape.
type ServiceRegisterRequest struct {
	ServiceName         string          `json:"service_name"`
	Host                string          `json:"host"`
	Port                string          `json:"port"`
	HealthCheckEndpoint string          `json:"health_check_endpoint,omitempty"`
	OAuthConfig         json.RawMessage `json:"oauth_config,omitempty"`
}

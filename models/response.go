package models

// APIResponse is the envelope every HTTP handler replies with.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

// ErrorResponseWithData carries diagnostic detail (raw tool output, exit
// codes) next to the error text.
func ErrorResponseWithData(err string, data any) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
		Data:    data,
	}
}

func MessageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}

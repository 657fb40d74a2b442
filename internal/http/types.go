package http

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func errorBody(code, msg string) ErrorResponse {
	return ErrorResponse{Success: false, Code: code, Error: msg}
}

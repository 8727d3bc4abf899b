package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body written by WriteJSONError.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given status code
// Sets Content-Type header and handles JSON encoding
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, statusCode int, msg string) {
	WriteJSONResponse(w, statusCode, ErrorResponse{Error: msg})
}

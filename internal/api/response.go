package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/teamplayer/imsms-demo/internal/models"
)

// Messages returned to clients. Details stay in the logs and the session diagnostic.
const (
	msgInvalidJSON       = "Invalid JSON format"
	msgPhoneRequired     = "Phone number is required"
	msgLookupRequest     = "Failed to request device verification"
	msgVerifying         = "Verifying device compatibility"
	msgSessionNotFound   = "Session not found"
	msgLookupFailed      = "LookUp failed"
	msgNotCompatible     = "Not compatible"
	msgCallbackFailed    = "Callback processing failed"
	msgMOReceived        = "MO received successfully"
	msgInternalError     = "Internal server error"
	msgProxyUnconfigured = "Proxy not configured"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error(msgInternalError))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding failure can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

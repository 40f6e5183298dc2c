package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/teamplayer/imsms-demo/internal/imsms"
)

// proxyErrorResponse is the body returned when the platform could not be reached.
type proxyErrorResponse struct {
	Error string `json:"error"`
}

// proxyHandler handles /api/proxy/{path...}. The request is relayed to the platform with
// the API key injected, and the upstream status and body are passed back unchanged.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, proxyErrorResponse{Error: msgProxyUnconfigured})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		slog.Warn("Server.proxyHandler: failed to read request body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, proxyErrorResponse{Error: err.Error()})
		return
	}

	res, err := s.proxy.Forward(r.Context(), imsms.ForwardRequest{
		Method:   r.Method,
		Path:     r.PathValue("path"),
		RawQuery: r.URL.RawQuery,
		Body:     body,
		APIKey:   r.Header.Get(imsms.APIKeyHeader),
	})
	if err != nil {
		slog.Error("Server.proxyHandler: forward failed", "method", r.Method, "path", r.PathValue("path"), "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, proxyErrorResponse{Error: err.Error()})
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		slog.Error("Server.proxyHandler: failed to write response", "error", err)
	}
}

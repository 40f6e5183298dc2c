// Package testutil provides common test utilities and helpers for the demo relay tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teamplayer/imsms-demo/internal/flow"
	"github.com/teamplayer/imsms-demo/internal/imsms"
	"github.com/teamplayer/imsms-demo/internal/store"
)

// TestCallbackURL is the public base URL used by test orchestrators.
const TestCallbackURL = "https://demo.example.com"

// T is the subset of testing.T the assertion helpers need.
type T interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Env bundles an orchestrator with the in-memory dependencies behind it.
type Env struct {
	Orchestrator *flow.Orchestrator
	Gateway      *imsms.MockClient
	Sessions     *store.SessionStore
	Ledger       *store.FileLedger
}

// NewTestEnv creates an orchestrator backed by a mock gateway, an in-memory session
// store and a file ledger in a temporary directory. Session ids are session-1,
// session-2 and so on; the completion delay is short.
func NewTestEnv(t *testing.T, opts ...flow.Option) *Env {
	t.Helper()
	gw := imsms.NewMockClient()
	sessions := store.NewSessionStore()
	ledger, err := store.NewFileLedger(store.WithFilePath(filepath.Join(t.TempDir(), store.DefaultLedgerFileName)))
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	var mu sync.Mutex
	seq := 0
	base := []flow.Option{
		flow.WithCallbackURL(TestCallbackURL),
		flow.WithLedger(ledger),
		flow.WithCompletionDelay(20 * time.Millisecond),
		flow.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("session-%d", seq)
		}),
	}
	orch, err := flow.NewOrchestrator(gw, sessions, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(func() {
		orch.Close()
		sessions.Close()
		ledger.Close()
	})
	return &Env{Orchestrator: orch, Gateway: gw, Sessions: sessions, Ledger: ledger}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON envelope and validates its success flag.
func AssertJSONResponse(t T, rr *httptest.ResponseRecorder, expectedSuccess bool) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if success, ok := response["success"].(bool); ok {
		if success != expectedSuccess {
			t.Errorf("expected success %v, got %v", expectedSuccess, success)
		}
	} else {
		t.Errorf("response missing or invalid 'success' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
			return nil
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// CreateJSONRequest creates an HTTP request from a raw JSON string.
func CreateJSONRequest(t T, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

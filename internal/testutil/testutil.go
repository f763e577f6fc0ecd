// Package testutil provides HTTP test helpers shared by the handler tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// DoRequest serves one request against h and returns the recorded response.
func DoRequest(h http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes a models.APIResponse envelope. When result is
// non-nil the envelope's result field is decoded into it.
func DecodeAPIResponse(t TB, rr *httptest.ResponseRecorder, result interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		models.APIResponse
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rr.Body.String(), err)
		return models.APIResponse{}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
	}
	return envelope.APIResponse
}

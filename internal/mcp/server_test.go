package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt"

	"github.com/overseer/internal/config"
)

func testServer(t *testing.T, auth config.AuthConfig) *Server {
	t.Helper()
	path := writeProjectsFile(t, twoProjects)
	registry := NewRegistry(testLogger())
	registry.Register(echoTool("echo"))

	router, err := NewRouter(registry, path, testLogger())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	cfg := &config.Config{
		Environment:   "production",
		ServerAddress: ":0",
		Auth:          auth,
	}
	return NewServer(cfg, router, registry, testLogger())
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestRPCRoundTrip(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	result := resp.Result.(map[string]interface{})
	if result["project"] != "consilio" {
		t.Errorf("ping result = %v", result)
	}
}

func TestRPCUnknownProjectIs404(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	w := doJSON(t, s, http.MethodPost, "/mcp/nope",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRPCNotificationIs204(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","method":"ping"}`, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["version"] == "" {
		t.Error("expected a version")
	}
}

func TestEndpointsListing(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)

	w := doJSON(t, s, http.MethodGet, "/endpoints", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Endpoints []struct {
			Project  string `json:"project"`
			Path     string `json:"path"`
			Requests int64  `json:"requests"`
		} `json:"endpoints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(body.Endpoints))
	}
	if body.Endpoints[0].Project != "consilio" || body.Endpoints[0].Requests != 1 {
		t.Errorf("endpoints[0] = %+v", body.Endpoints[0])
	}
}

func TestBodyLimitRejectsOversizedJSON(t *testing.T) {
	s := testServer(t, config.AuthConfig{})
	big := strings.Repeat("a", 2<<20)
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"`+big+`"}}`, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
}

func signToken(t *testing.T, secret, project string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"project": project})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRequiresToken(t *testing.T) {
	s := testServer(t, config.AuthConfig{Enabled: true, JWTSecret: "sekrit"})
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthRejectsForeignProjectToken(t *testing.T) {
	s := testServer(t, config.AuthConfig{Enabled: true, JWTSecret: "sekrit"})
	token := signToken(t, "sekrit", "atlas")
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthAcceptsMatchingAndMetaTokens(t *testing.T) {
	s := testServer(t, config.AuthConfig{Enabled: true, JWTSecret: "sekrit"})
	for _, project := range []string{"consilio", "meta"} {
		token := signToken(t, "sekrit", project)
		w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
			`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusOK {
			t.Errorf("project %s: status = %d", project, w.Code)
		}
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	s := testServer(t, config.AuthConfig{Enabled: true, JWTSecret: "sekrit"})
	token := signToken(t, "wrong", "consilio")
	w := doJSON(t, s, http.MethodPost, "/mcp/consilio",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

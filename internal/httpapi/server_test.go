package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/session"
)

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	reg, err := agent.NewRegistry(
		agent.Config{Name: "concierge", Instructions: "You are the travel concierge."},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("wayfarer_test_http_%d", time.Now().UnixNano()))
	srv := New(cfg, session.NewManager(cfg.SessionInactivityTimeout), reg,
		NewCredentialIssuer("", "", ""), metrics, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func defaultTestConfig() config.Config {
	return config.Config{
		DefaultAgent:             "concierge",
		SessionInactivityTimeout: 2 * time.Minute,
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	body := bytes.NewBufferString(`{"frontend_id":"web-1","modality":"voice"}`)
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	var created session.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("missing session id")
	}
	if created.AgentName != "concierge" {
		t.Fatalf("agent = %q, want the configured default", created.AgentName)
	}

	endResp, err := http.Post(ts.URL+"/v1/sessions/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	endResp.Body.Close()
	if endResp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want 200", endResp.StatusCode)
	}

	again, err := http.Post(ts.URL+"/v1/sessions/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session twice: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("double end status = %d, want 404", again.StatusCode)
	}
}

func TestCreateSessionUnknownAgent(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	body := bytes.NewBufferString(`{"agent_name":"cruises"}`)
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCredentialEndpointLocalMode(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	resp, err := http.Get(ts.URL + "/v1/realtime/credential")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.Token, "ek_local_") {
		t.Fatalf("token = %q, want local development token", body.Token)
	}
}

func TestCredentialIssuerMintsUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{"client_secret":{"value":"ek_minted_42"}}`))
	}))
	defer upstream.Close()

	issuer := NewCredentialIssuer(upstream.URL, "sk-test", "gpt-realtime")
	token, err := issuer.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token != "ek_minted_42" {
		t.Fatalf("token = %q, want ek_minted_42", token)
	}
}

func TestCORSHeaderWhenAnyOriginAllowed(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AllowAnyOrigin = true
	ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
}

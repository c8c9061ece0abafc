package doppler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Token:      "test-token",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: -1, // No retries unless a test opts in.
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encoding response: %v", err)
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	if err == nil {
		t.Fatal("expected error for empty token, got nil")
	}
}

func TestClient_ListProjects(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("got Authorization=%q, want bearer token", got)
		}
		if got := r.URL.Query().Get("per_page"); got != "100" {
			t.Errorf("got per_page=%q, want %q", got, "100")
		}
		writeJSON(t, w, map[string]any{
			"projects": []map[string]any{
				{"id": "1", "slug": "backend", "name": "Backend"},
				{"id": "2", "slug": "frontend", "name": "Frontend"},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].Slug != "backend" {
		t.Errorf("got slug=%q, want %q", projects[0].Slug, "backend")
	}
}

func TestClient_ListConfigs(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/configs" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("project"); got != "backend" {
			t.Errorf("got project=%q, want %q", got, "backend")
		}
		writeJSON(t, w, map[string]any{
			"configs": []map[string]any{
				{"name": "dev", "project": "backend", "environment": "dev", "root": true},
				{"name": "prd", "project": "backend", "environment": "prd", "root": true},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	configs, err := c.ListConfigs(context.Background(), "backend")
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}
	if !configs[0].Root {
		t.Error("got root=false, want true")
	}
}

func TestClient_ListSecretNames(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/configs/config/secrets/names" {
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, map[string]any{"names": []string{"API_KEY", "DATABASE_URL"}})
	})

	c := newTestClient(t, srv.URL)
	names, err := c.ListSecretNames(context.Background(), "backend", "dev")
	if err != nil {
		t.Fatalf("ListSecretNames: %v", err)
	}
	if len(names) != 2 || names[0] != "API_KEY" {
		t.Errorf("got names=%v, want [API_KEY DATABASE_URL]", names)
	}
}

func TestClient_GetSecret(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "DATABASE_URL" {
			t.Errorf("got name=%q, want %q", got, "DATABASE_URL")
		}
		writeJSON(t, w, map[string]any{
			"secrets": map[string]any{
				"DATABASE_URL": map[string]any{"raw": "${DB}/app", "computed": "postgres://db/app"},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	secret, err := c.GetSecret(context.Background(), "backend", "dev", "DATABASE_URL")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if secret.Value == nil {
		t.Fatal("got nil Value, want raw/computed pair")
	}
	if got := *secret.Value.Raw; got != "${DB}/app" {
		t.Errorf("got raw=%q, want %q", got, "${DB}/app")
	}
	if got := *secret.Value.Computed; got != "postgres://db/app" {
		t.Errorf("got computed=%q, want %q", got, "postgres://db/app")
	}
}

// A 200 response that lacks the requested name is a success with a nil
// value, not an error.
func TestClient_GetSecret_MissingName(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"secrets": map[string]any{
				"OTHER_KEY": map[string]any{"raw": "x", "computed": "x"},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	secret, err := c.GetSecret(context.Background(), "backend", "dev", "MISSING")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if secret.Name != "MISSING" {
		t.Errorf("got name=%q, want %q", secret.Name, "MISSING")
	}
	if secret.Value != nil {
		t.Errorf("got Value=%v, want nil for absent name", secret.Value)
	}
}

func TestClient_SetSecret(t *testing.T) {
	var gotBody map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method=%q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		writeJSON(t, w, map[string]any{"created": true})
	})

	c := newTestClient(t, srv.URL)
	created, err := c.SetSecret(context.Background(), "backend", "dev", "NEW_KEY", "v1")
	if err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if !created {
		t.Error("got created=false, want true")
	}
	secrets, ok := gotBody["secrets"].(map[string]any)
	if !ok || secrets["NEW_KEY"] != "v1" {
		t.Errorf("got secrets=%v, want {NEW_KEY: v1}", gotBody["secrets"])
	}
}

func TestClient_SetSecret_Update(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"created": false})
	})

	c := newTestClient(t, srv.URL)
	created, err := c.SetSecret(context.Background(), "backend", "dev", "EXISTING", "v2")
	if err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if created {
		t.Error("got created=true, want false for existing key")
	}
}

func TestClient_DeleteSecrets(t *testing.T) {
	var gotBody map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("got method=%q, want DELETE", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		writeJSON(t, w, map[string]any{"success": true})
	})

	c := newTestClient(t, srv.URL)
	if err := c.DeleteSecrets(context.Background(), "backend", "dev", []string{"A", "B"}); err != nil {
		t.Fatalf("DeleteSecrets: %v", err)
	}
	names, ok := gotBody["secrets"].([]any)
	if !ok || len(names) != 2 {
		t.Fatalf("got secrets=%v, want [A B]", gotBody["secrets"])
	}
}

func TestClient_PromoteSecrets(t *testing.T) {
	var gotWrite map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/configs/config/secrets/download":
			if got := r.URL.Query().Get("config"); got != "dev" {
				t.Errorf("got download config=%q, want %q", got, "dev")
			}
			writeJSON(t, w, map[string]string{
				"API_KEY":      "k",
				"DATABASE_URL": "db",
				"DEV_ONLY":     "x",
			})
		case r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&gotWrite); err != nil {
				t.Fatalf("decoding write body: %v", err)
			}
			writeJSON(t, w, map[string]any{"success": true})
		default:
			http.NotFound(w, r)
		}
	})

	c := newTestClient(t, srv.URL)
	result, err := c.PromoteSecrets(context.Background(), "backend", "dev", "stg", []string{"DEV_ONLY"})
	if err != nil {
		t.Fatalf("PromoteSecrets: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("got count=%d, want 2", result.Count)
	}
	sort.Strings(result.Written)
	if len(result.Written) != 2 || result.Written[0] != "API_KEY" || result.Written[1] != "DATABASE_URL" {
		t.Errorf("got written=%v, want [API_KEY DATABASE_URL]", result.Written)
	}
	if gotWrite["config"] != "stg" {
		t.Errorf("got write config=%v, want %q", gotWrite["config"], "stg")
	}
	secrets, _ := gotWrite["secrets"].(map[string]any)
	if _, present := secrets["DEV_ONLY"]; present {
		t.Error("excluded key DEV_ONLY was written to the target")
	}
}

// When every source key is excluded, no write request is sent at all.
func TestClient_PromoteSecrets_AllExcluded(t *testing.T) {
	var writes atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writes.Add(1)
		}
		writeJSON(t, w, map[string]string{"ONLY_KEY": "v"})
	})

	c := newTestClient(t, srv.URL)
	result, err := c.PromoteSecrets(context.Background(), "backend", "dev", "stg", []string{"ONLY_KEY"})
	if err != nil {
		t.Fatalf("PromoteSecrets: %v", err)
	}
	if result.Count != 0 {
		t.Errorf("got count=%d, want 0", result.Count)
	}
	if n := writes.Load(); n != 0 {
		t.Errorf("got %d write requests, want 0", n)
	}
}

func TestClient_CreateServiceToken_DefaultAccess(t *testing.T) {
	var gotBody map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/configs/config/tokens" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		writeJSON(t, w, map[string]any{
			"token": map[string]any{
				"name": "ci", "slug": "t1", "key": "dp.st.xxxx",
				"project": "backend", "config": "dev", "access": "read",
			},
		})
	})

	c := newTestClient(t, srv.URL)
	token, err := c.CreateServiceToken(context.Background(), "backend", "dev", "ci", "")
	if err != nil {
		t.Fatalf("CreateServiceToken: %v", err)
	}
	if gotBody["access"] != "read" {
		t.Errorf("got access=%v, want %q by default", gotBody["access"], "read")
	}
	if token.Key != "dp.st.xxxx" {
		t.Errorf("got key=%q, want the one-time token material", token.Key)
	}
}

func TestClient_CreateServiceToken_InvalidAccess(t *testing.T) {
	var requests atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	})

	c := newTestClient(t, srv.URL)
	_, err := c.CreateServiceToken(context.Background(), "backend", "dev", "ci", "admin")
	if err == nil {
		t.Fatal("expected error for invalid access level, got nil")
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("got %d requests, want 0 (validation is local)", n)
	}
}

func TestClient_ActivityLogs(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logs" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("page") != "1" || q.Get("per_page") != "20" {
			t.Errorf("got page=%q per_page=%q, want defaults 1/20", q.Get("page"), q.Get("per_page"))
		}
		if q.Has("project") {
			t.Error("project filter sent despite being empty")
		}
		writeJSON(t, w, map[string]any{
			"logs": []map[string]any{
				{"id": "l1", "text": "Updated DATABASE_URL", "project": "backend"},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	logs, err := c.ActivityLogs(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("ActivityLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "l1" {
		t.Errorf("got logs=%v, want one entry l1", logs)
	}
}

func TestClient_RetriesOn429(t *testing.T) {
	var attempts atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, map[string]any{"projects": []map[string]any{{"id": "1", "slug": "p", "name": "P"}}})
	})

	c, err := NewClient(ClientConfig{
		Token:      "test-token",
		BaseURL:    srv.URL,
		MaxRetries: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects after retry: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("got %d projects, want 1", len(projects))
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("got %d attempts, want 2", n)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]any{"messages": []string{"Could not find requested project"}})
	})

	c, err := NewClient(ClientConfig{
		Token:      "test-token",
		BaseURL:    srv.URL,
		MaxRetries: 3,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.ListConfigs(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for 404, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("got status=%d, want 404", apiErr.StatusCode)
	}
	if len(apiErr.Messages) != 1 || apiErr.Messages[0] != "Could not find requested project" {
		t.Errorf("got messages=%v, want remote message passed through", apiErr.Messages)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("got %d attempts, want 1 (4xx is permanent)", n)
	}
}

func TestClient_ValidateConnection(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, map[string]any{"slug": "workplace"})
	})

	c := newTestClient(t, srv.URL)
	if !c.ValidateConnection(context.Background()) {
		t.Error("got valid=false, want true")
	}
}

func TestClient_ValidateConnection_BadToken(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(t, w, map[string]any{"messages": []string{"Invalid auth token"}})
	})

	c := newTestClient(t, srv.URL)
	if c.ValidateConnection(context.Background()) {
		t.Error("got valid=true, want false for rejected token")
	}
}

// The observer sees every attempt, including the failed ones.
type recordingObserver struct {
	calls atomic.Int32
}

func (r *recordingObserver) ObserveRequest(string, int, time.Duration) {
	r.calls.Add(1)
}

func TestClient_ObserverSeesEveryAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, map[string]any{"projects": []map[string]any{}})
	})

	obs := &recordingObserver{}
	c, err := NewClient(ClientConfig{
		Token:      "test-token",
		BaseURL:    srv.URL,
		MaxRetries: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.WithObserver(obs)

	if _, err := c.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if n := obs.calls.Load(); n != 2 {
		t.Errorf("got %d observer callbacks, want 2", n)
	}
}

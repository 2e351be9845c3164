package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/meridianhq/satops-trainer/auth"
	authsqlite "github.com/meridianhq/satops-trainer/auth/sqlite"
	"github.com/meridianhq/satops-trainer/scenario"
	"github.com/meridianhq/satops-trainer/session"
	"github.com/meridianhq/satops-trainer/state/memory"
	"github.com/meridianhq/satops-trainer/types"
)

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "solar-array-deploy",
		Name: "Solar Array Deployment",
		Steps: []types.StepDefinition{
			{
				Order:           1,
				Title:           "Deploy the panels",
				ConditionKind:   types.ConditionCommandExecuted,
				ConditionConfig: map[string]any{"command": "DEPLOY_PANELS"},
			},
			{
				Order:           2,
				Title:           "Confirm deployment",
				ConditionKind:   types.ConditionManualConfirmation,
				ConditionConfig: map[string]any{},
			},
		},
	}
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	store := memory.New()
	runner := session.NewRunner(session.WithStore(store))
	server := New(runner, append([]Option{WithStore(store)}, opts...)...)
	if err := server.AddScenario(testScenario()); err != nil {
		t.Fatalf("failed to add scenario: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"scenarioId": "solar-array-deploy",
		"operatorId": "op-1",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["sessionId"] == "" {
		t.Fatal("expected a session id")
	}
	return body["sessionId"]
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_ListScenarios(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/scenarios")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	type entry struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Steps int    `json:"steps"`
	}
	var out []entry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != 1 || out[0].ID != "solar-array-deploy" || out[0].Steps != 2 {
		t.Fatalf("unexpected catalog: %+v", out)
	}
}

func TestServer_SessionFlow(t *testing.T) {
	ts := newTestServer(t)
	sessionID := startSession(t, ts)

	// Wrong command: verdict returned, session stays on step 1.
	resp := postJSON(t, fmt.Sprintf("%s/api/sessions/%s/commands", ts.URL, sessionID), types.CommandRecord{
		Name:   "WRONG",
		Status: types.StatusOK,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	verdict := decode[types.ValidationResult](t, resp)
	if verdict.Passed {
		t.Fatalf("wrong command must not pass: %+v", verdict)
	}

	// Right command advances to the manual step.
	resp = postJSON(t, fmt.Sprintf("%s/api/sessions/%s/commands", ts.URL, sessionID), types.CommandRecord{
		Name:   "DEPLOY_PANELS",
		Status: types.StatusOK,
	}, nil)
	verdict = decode[types.ValidationResult](t, resp)
	if !verdict.Passed {
		t.Fatalf("expected pass: %+v", verdict)
	}

	getResp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer getResp.Body.Close()
	record := decode[map[string]any](t, getResp)
	if record["currentStep"] != float64(2) {
		t.Fatalf("expected current step 2, got %v", record["currentStep"])
	}

	// Confirm finishes the scenario.
	resp = postJSON(t, fmt.Sprintf("%s/api/sessions/%s/confirm", ts.URL, sessionID), map[string]any{}, nil)
	verdict = decode[types.ValidationResult](t, resp)
	if !verdict.Passed {
		t.Fatalf("confirmation should pass: %+v", verdict)
	}

	// Verdict history is persisted.
	vResp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/verdicts", ts.URL, sessionID))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer vResp.Body.Close()
	verdicts := decode[[]map[string]any](t, vResp)
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
}

func TestServer_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{"scenarioId": "ghost"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown scenario should 400, got %d", resp.StatusCode)
	}

	sessionID := startSession(t, ts)
	resp = postJSON(t, fmt.Sprintf("%s/api/sessions/%s/commands", ts.URL, sessionID), map[string]any{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing command name should 400, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/sessions/missing-session")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session should 404, got %d", getResp.StatusCode)
	}
}

func TestServer_AuthRoles(t *testing.T) {
	keys, err := authsqlite.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("failed to create auth store: %v", err)
	}
	t.Cleanup(func() { _ = keys.Close() })

	viewer, err := keys.CreateKey(context.Background(), auth.RoleViewer)
	if err != nil {
		t.Fatalf("failed to create viewer key: %v", err)
	}
	operator, err := keys.CreateKey(context.Background(), auth.RoleOperator)
	if err != nil {
		t.Fatalf("failed to create operator key: %v", err)
	}

	ts := newTestServer(t, WithAuth(keys))

	// No key at all.
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{"scenarioId": "solar-array-deploy"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key should 401, got %d", resp.StatusCode)
	}

	// Viewer can read but not start sessions.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/scenarios", nil)
	req.Header.Set("X-API-Key", viewer.Secret)
	readResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer readResp.Body.Close()
	if readResp.StatusCode != http.StatusOK {
		t.Fatalf("viewer read should 200, got %d", readResp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sessions", map[string]string{"scenarioId": "solar-array-deploy"}, map[string]string{
		"X-API-Key": viewer.Secret,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer start should 403, got %d", resp.StatusCode)
	}

	// Operator can start.
	resp = postJSON(t, ts.URL+"/api/sessions", map[string]string{"scenarioId": "solar-array-deploy"}, map[string]string{
		"X-API-Key": operator.Secret,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("operator start should 201, got %d", resp.StatusCode)
	}
}

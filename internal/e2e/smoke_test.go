//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("TEAMFLOW_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type runRequest struct {
	Team        string `json:"team"`
	Task        string `json:"task"`
	Coordinator string `json:"coordinator,omitempty"`
}

type runSnapshot struct {
	ID       string `json:"id"`
	Team     string `json:"team"`
	Mode     string `json:"collaboration_mode"`
	Status   string `json:"status"`
	Result   string `json:"result"`
	Messages []struct {
		Sender string `json:"sender"`
		Body   string `json:"body"`
	} `json:"messages"`
}

var client = &http.Client{Timeout: 90 * time.Second}

func doJSON(t *testing.T, method, path string, in, out interface{}) int {
	t.Helper()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

// runToEnd starts task on teamName and polls until the run leaves RUNNING.
func runToEnd(t *testing.T, teamName, task string) runSnapshot {
	t.Helper()

	var snap runSnapshot
	if code := doJSON(t, http.MethodPost, "/api/runs", runRequest{Team: teamName, Task: task}, &snap); code != http.StatusCreated {
		t.Fatalf("POST /api/runs: unexpected status %d", code)
	}

	deadline := time.Now().Add(60 * time.Second)
	for snap.Status == "RUNNING" && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if code := doJSON(t, http.MethodGet, "/api/runs/"+snap.ID, nil, &snap); code != http.StatusOK {
			t.Fatalf("GET /api/runs/%s: unexpected status %d", snap.ID, code)
		}
	}
	return snap
}

func TestListTeams(t *testing.T) {
	var teams []map[string]interface{}
	if code := doJSON(t, http.MethodGet, "/api/teams", nil, &teams); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(teams) == 0 {
		t.Fatal("expected seeded teams")
	}
	t.Logf("teams: %d", len(teams))
}

func TestSequentialRun(t *testing.T) {
	snap := runToEnd(t, "pipeline", "Summarize the quarterly report")
	if snap.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", snap.Status)
	}
	if !strings.Contains(snap.Result, "SEQUENTIAL") {
		t.Errorf("expected result to name the mode, got: %s", snap.Result)
	}
	if len(snap.Messages) == 0 || snap.Messages[0].Sender != "system" {
		t.Errorf("expected a leading system message, got %+v", snap.Messages)
	}
}

func TestHierarchicalRun(t *testing.T) {
	snap := runToEnd(t, "research", "Survey vector databases")
	if snap.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", snap.Status)
	}
	t.Logf("result: %.200s", snap.Result)
}

func TestUnknownRun(t *testing.T) {
	if code := doJSON(t, http.MethodGet, "/api/runs/does-not-exist", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/web/api"
)

func newAPIStack(t *testing.T) (*httptest.Server, func(t *testing.T, runID string) api.RunResponse) {
	t.Helper()
	svc, _, hub, reg := newStack(t, &scriptedLLM{}, 2)
	ts := httptest.NewServer(api.NewServer(svc, reg, hub, "127.0.0.1:0").Handler())
	t.Cleanup(ts.Close)

	awaitRun := func(t *testing.T, runID string) api.RunResponse {
		t.Helper()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			var run api.RunResponse
			getJSON(t, ts, "/api/runs/"+runID, &run)
			switch run.Status {
			case "completed", "failed", "cancelled":
				return run
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("run %s never reached a terminal status over the API", runID)
		return api.RunResponse{}
	}
	return ts, awaitRun
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("POST %s: decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

// TestHTTPFlow drives a generation run and a refinement entirely over the
// HTTP API.
func TestHTTPFlow(t *testing.T) {
	ts, awaitRun := newAPIStack(t)

	var run api.RunResponse
	code := postJSON(t, ts, "/api/runs", api.SubmitRunRequest{
		Mode:        "generation",
		Prompt:      "a market stall with citrus",
		Platform:    "instagram",
		NumVariants: 2,
	}, &run)
	if code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want %d", code, http.StatusAccepted)
	}

	done := awaitRun(t, run.ID)
	if done.Status != "completed" {
		t.Fatalf("run status = %s, want completed (%s)", done.Status, done.Error)
	}
	if len(done.Stages) != 6 {
		t.Fatalf("stage count = %d, want 6", len(done.Stages))
	}
	if done.CostUSD <= 0 {
		t.Errorf("cost = %f, want > 0", done.CostUSD)
	}

	idx := 0
	var job api.RefinementResponse
	code = postJSON(t, ts, fmt.Sprintf("/api/runs/%s/refinements", run.ID), api.SubmitRefinementRequest{
		ParentKind:      "original",
		ParentImageID:   "variant-0",
		GenerationIndex: &idx,
		Type:            "subject",
		Instruction:     "brighter oranges",
	}, &job)
	if code != http.StatusAccepted {
		t.Fatalf("refinement submit status = %d, want %d", code, http.StatusAccepted)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		getJSON(t, ts, "/api/refinements/"+job.ID, &job)
		if job.Status == "completed" || job.Status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != "completed" {
		t.Fatalf("refinement status = %s, want completed (%s)", job.Status, job.Error)
	}
	if job.ArtifactRef == "" {
		t.Error("completed refinement has no artifact ref")
	}
	if job.ParentRunID != run.ID {
		t.Errorf("refinement parent run = %s, want %s", job.ParentRunID, run.ID)
	}

	var jobs []api.RefinementResponse
	getJSON(t, ts, fmt.Sprintf("/api/runs/%s/refinements", run.ID), &jobs)
	if len(jobs) != 1 {
		t.Errorf("refinement list length = %d, want 1", len(jobs))
	}

	var status api.StatusResponse
	getJSON(t, ts, "/api/status", &status)
	if status.Total < 2 {
		t.Errorf("status total = %d, want >= 2", status.Total)
	}
	if status.Completed < 2 {
		t.Errorf("status completed = %d, want >= 2", status.Completed)
	}
}

// TestHTTPCancelCompletedRun verifies cancelling a terminal run conflicts
func TestHTTPCancelCompletedRun(t *testing.T) {
	ts, awaitRun := newAPIStack(t)

	var run api.RunResponse
	postJSON(t, ts, "/api/runs", api.SubmitRunRequest{
		Mode:   "caption",
		Prompt: "hand-thrown ceramics",
	}, &run)
	awaitRun(t, run.ID)

	code := postJSON(t, ts, "/api/runs/"+run.ID+"/cancel", struct{}{}, nil)
	if code != http.StatusConflict {
		t.Errorf("cancel status = %d, want %d", code, http.StatusConflict)
	}
}

// TestHTTPRejectsBadRefinementParent checks the 422 mapping for ancestry
// resolution failures.
func TestHTTPRejectsBadRefinementParent(t *testing.T) {
	ts, awaitRun := newAPIStack(t)

	var run api.RunResponse
	postJSON(t, ts, "/api/runs", api.SubmitRunRequest{
		Mode:   "generation",
		Prompt: "a quiet harbor",
	}, &run)
	awaitRun(t, run.ID)

	code := postJSON(t, ts, fmt.Sprintf("/api/runs/%s/refinements", run.ID), api.SubmitRefinementRequest{
		ParentKind:    "refinement",
		ParentImageID: "no-such-job",
		Type:          "prompt",
	}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", code, http.StatusUnprocessableEntity)
	}
}

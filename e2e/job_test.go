package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

func startJob(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doRequest(ta.app, http.MethodPost, "/api/models/acme/box", `{"waitMode": "async"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("no job id returned")
	}
	return jobID
}

func TestJobStatus_Success(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs/"+jobID, "")
	if err != nil {
		t.Fatal(err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("expected jobId %s, got %v", jobID, result["jobId"])
	}
	if result["status"] != "succeeded" {
		t.Errorf("expected succeeded, got %v", result["status"])
	}
	if result["queue"] != "cadquery" {
		t.Errorf("expected queue cadquery, got %v", result["queue"])
	}
	if result["fingerprint"] == nil || result["fingerprint"] == "" {
		t.Error("expected fingerprint on job status")
	}
}

func TestJobResult_ReturnsBundle(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doRequest(ta.app, http.MethodGet, fmt.Sprintf("/api/jobs/%s/result", jobID), "")
	if err != nil {
		t.Fatal(err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	bundle, ok := result["bundle"].(map[string]interface{})
	if !ok {
		t.Fatal("expected bundle on succeeded job result")
	}
	if bundle["fingerprint"] != result["fingerprint"] {
		t.Error("bundle fingerprint must match the job's")
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs/does-not-exist", "")
	if err != nil {
		t.Fatal(err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testJobConfig builds a complete job configuration backed by a stub
// oracle script in tmpDir.
func testJobConfig(t *testing.T, tmpDir string) TuneConfig {
	t.Helper()
	return TuneConfig{
		ParamsPath:     writeParamDefs(t, tmpDir, "R 1 1 2\nD 4 4 6\n"),
		DataPath:       writeDataFile(t, tmpDir),
		OracleCmd:      writeOracleScript(t, tmpDir, `echo 0.5 > "$3"`),
		MaxRounds:      5,
		MinImprovement: 0.01,
		Cache:          true,
		Workers:        1,
		WorkDir:        tmpDir,
	}
}

func TestServer_CreateJob(t *testing.T) {
	tmpDir := t.TempDir()

	s := NewServer(":8080", nil, "")

	config := testJobConfig(t, tmpDir)

	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_MissingInputs(t *testing.T) {
	s := NewServer(":8080", nil, "")

	// No oracle command: the config must be rejected before a job starts
	config := TuneConfig{
		ParamsPath: "params.def",
		DataPath:   "train.fa",
	}

	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("No job should be created for an invalid config")
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil, "")

	// Create two jobs
	s.jobManager.CreateJob(TuneConfig{DataPath: "train1.fa"})
	s.jobManager.CreateJob(TuneConfig{DataPath: "train2.fa"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(TuneConfig{DataPath: "train.fa", OracleCmd: "./crossval.sh"})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}

	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetJobResult(t *testing.T) {
	tmpDir := t.TempDir()

	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(testJobConfig(t, tmpDir))

	// Run job and wait for completion
	err := runJob(context.Background(), s.jobManager, nil, "", job.ID)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/result", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobResult(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain content type, got %s", ct)
	}

	// The result is the final parameter set in "name value" lines
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 parameter lines, got %d: %q", len(lines), w.Body.String())
	}
	if !strings.HasPrefix(lines[0], "R ") {
		t.Errorf("First line should carry parameter R, got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "D ") {
		t.Errorf("Second line should carry parameter D, got %q", lines[1])
	}
}

func TestServer_GetJobResult_NotReady(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(TuneConfig{DataPath: "train.fa"})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/result", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobResult(w, req, job.ID)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for pending job, got %d", w.Code)
	}
}

func TestServer_CancelJob_NotRunning(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(TuneConfig{DataPath: "train.fa"})

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleCancelJob(w, req, job.ID)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for job without a running worker, got %d", w.Code)
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	s := NewServer("localhost:0", nil, "")
	srv := httptest.NewServer(s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/jobs" && r.Method == http.MethodPost {
			s.handleCreateJob(w, r)
		} else if r.URL.Path == "/api/v1/jobs" && r.Method == http.MethodGet {
			s.handleListJobs(w, r)
		} else {
			s.handleJobsWithID(w, r)
		}
	})))
	defer srv.Close()

	// Create job
	config := testJobConfig(t, tmpDir)

	body, _ := json.Marshal(config)
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 50
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}

		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}

		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	// Fetch the final parameter set
	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/result")
	if err != nil {
		t.Fatalf("Failed to get result: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	tmpDir := t.TempDir()

	s := NewServer(":8080", nil, "")

	config := testJobConfig(t, tmpDir)
	// Slow the oracle down so the stream stays open long enough
	config.OracleCmd = writeOracleScript(t, tmpDir, `sleep 0.2; echo 0.5 > "$3"`)

	job := s.jobManager.CreateJob(config)

	// Start worker in background
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go runJob(ctx, s.jobManager, nil, "", job.ID)

	// Wait a bit for job to start
	time.Sleep(100 * time.Millisecond)

	// Create SSE request
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil)
	w := httptest.NewRecorder()

	// Run handler in goroutine
	done := make(chan bool)
	go func() {
		s.handleJobStream(w, req, job.ID)
		done <- true
	}()

	// Wait for some data or timeout
	timeout := time.After(3 * time.Second)
	select {
	case <-done:
		// Handler completed
	case <-timeout:
		// Timeout - that's ok, we just want to check we got some events
	}

	// Check headers
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	// Check we got some SSE data
	body := w.Body.String()
	if !strings.Contains(body, "data:") {
		t.Error("Expected SSE data in response")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:       "job1",
		State:       StateRunning,
		Round:       2,
		Param:       "D",
		BestScore:   0.61,
		Evaluations: 7,
		Timestamp:   time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Round != 2 {
			t.Errorf("Expected round 2, got %d", received.Round)
		}
		if received.BestScore != 0.61 {
			t.Errorf("Expected best score 0.61, got %f", received.BestScore)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Cleanup
	eb.CleanupJob("job1")
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cl4nyz/elevadores-updater/internal/types"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

type fakeUpdater struct {
	mu      sync.Mutex
	info    *update.VersionInfo
	result  *update.Result
	err     error
	panics  bool
	state   update.State
	targets []update.Target
}

func (f *fakeUpdater) Check(context.Context) *update.VersionInfo {
	return f.info
}

func (f *fakeUpdater) PerformUpdate(_ context.Context, target update.Target) (*update.Result, error) {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.result, f.err
}

func (f *fakeUpdater) State() update.State        { return f.state }
func (f *fakeUpdater) LastResult() *update.Result { return f.result }
func (f *fakeUpdater) CurrentVersion() string     { return "1.0.0" }

type fakeHistory struct {
	attempts []update.Attempt
	limit    int
	err      error
}

func (h *fakeHistory) List(_ context.Context, limit int) ([]update.Attempt, error) {
	h.limit = limit
	return h.attempts, h.err
}

func serve(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
	return payload
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decode(t, resp)
	body, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object in %s", resp.Body.String())
	}
	code, _ := body["code"].(string)
	return code
}

func TestCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	u := &fakeUpdater{info: &update.VersionInfo{
		Available:      true,
		CurrentVersion: "1.0.0",
		RemoteVersion:  "1.1.0",
		DownloadURL:    "https://example.com/v1.1.0.zip",
		ReleaseNotes:   "fixes",
	}}

	resp := serve(t, New(u), http.MethodGet, "/api/update/check", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	payload := decode(t, resp)
	for key, want := range map[string]any{
		"available":      true,
		"currentVersion": "1.0.0",
		"remoteVersion":  "1.1.0",
		"downloadUrl":    "https://example.com/v1.1.0.zip",
		"releaseNotes":   "fixes",
	} {
		if payload[key] != want {
			t.Errorf("%s = %v, want %v", key, payload[key], want)
		}
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Error("response has no request id")
	}
}

func TestApply(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		body       string
		result     *update.Result
		err        error
		wantStatus int
		wantCode   string
		wantTarget update.Target
	}{
		{
			name: "success with pinned release",
			body: `{"downloadUrl":"https://example.com/a.zip","version":"v1.1.0"}`,
			result: &update.Result{
				ID: "1", Success: true, Message: "updated", FromVersion: "1.0.0", ToVersion: "1.1.0",
				BackupLocation: "/srv/app/backup_20250731_200125",
				Applied:        &update.ApplyResult{Updated: []string{"app.py"}, Skipped: []string{"postgre.py"}},
			},
			wantStatus: http.StatusOK,
			wantTarget: update.Target{DownloadURL: "https://example.com/a.zip", Version: "v1.1.0"},
		},
		{
			name:       "empty body",
			result:     &update.Result{ID: "2", Success: true, Message: "already up to date"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed body",
			body:       `{"version":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "busy",
			err:        update.ErrUpdateInProgress,
			wantStatus: http.StatusConflict,
			wantCode:   "update_in_progress",
		},
		{
			name:       "failed",
			result:     &update.Result{ID: "3", RolledBack: true, BackupLocation: "/b"},
			err:        &update.StageError{Stage: update.StateApplying, Err: errors.New("disk full")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "update_failed",
		},
		{
			name:       "rollback failed",
			result:     &update.Result{ID: "4", BackupLocation: "/b"},
			err:        &update.RollbackError{Cause: errors.New("apply"), Err: errors.New("restore")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "rollback_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &fakeUpdater{result: tt.result, err: tt.err}
			resp := serve(t, New(u), http.MethodPost, "/api/update/apply", tt.body)

			if resp.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.Code, tt.wantStatus, resp.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, resp); got != tt.wantCode {
					t.Errorf("error code = %q, want %q", got, tt.wantCode)
				}
				return
			}
			if len(u.targets) != 1 || u.targets[0] != tt.wantTarget {
				t.Errorf("targets = %+v, want %+v", u.targets, tt.wantTarget)
			}
			payload := decode(t, resp)
			if payload["success"] != true {
				t.Errorf("success = %v", payload["success"])
			}
		})
	}
}

func TestApplyFailureDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("without result", func(t *testing.T) {
		u := &fakeUpdater{err: errors.New("lock held by pid 42")}
		resp := serve(t, New(u), http.MethodPost, "/api/update/apply", "")
		body, _ := decode(t, resp)["error"].(map[string]any)
		if _, ok := body["details"]; ok {
			t.Errorf("error payload has details: %s", resp.Body.String())
		}
	})

	t.Run("rolled back", func(t *testing.T) {
		u := &fakeUpdater{
			result: &update.Result{ID: "5", RolledBack: true, BackupLocation: "/b", NotRestored: []string{"static/new.js"}},
			err:    &update.StageError{Stage: update.StateApplying, Err: errors.New("disk full")},
		}
		resp := serve(t, New(u), http.MethodPost, "/api/update/apply", "")
		body, _ := decode(t, resp)["error"].(map[string]any)
		details, ok := body["details"].(map[string]any)
		if !ok {
			t.Fatalf("details missing: %s", resp.Body.String())
		}
		if details["id"] != "5" || details["rolledBack"] != true {
			t.Errorf("details = %v", details)
		}
		if paths, _ := details["notRestored"].([]any); len(paths) != 1 || paths[0] != "static/new.js" {
			t.Errorf("notRestored = %v", details["notRestored"])
		}
	})
}

// blockingUpdater holds PerformUpdate until release is closed.
type blockingUpdater struct {
	fakeUpdater
	started chan struct{}
	release chan struct{}
}

func (b *blockingUpdater) PerformUpdate(ctx context.Context, target update.Target) (*update.Result, error) {
	close(b.started)
	<-b.release
	return b.fakeUpdater.PerformUpdate(ctx, target)
}

func TestServeWaitsForRunningUpdate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	u := &blockingUpdater{
		fakeUpdater: fakeUpdater{result: &update.Result{ID: "1", Success: true}},
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := New(u)
	s.shutdownTimeout = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/update/apply", "application/json", nil)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-u.started:
	case <-time.After(5 * time.Second):
		t.Fatal("apply request never reached the updater")
	}
	cancel()

	select {
	case err := <-done:
		t.Fatalf("Serve() returned %v while an update was running", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(u.release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after the update finished")
	}
}

func TestApplyResponseFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	applied := make(chan *update.Result, 1)
	u := &fakeUpdater{result: &update.Result{
		ID: "1", Success: true, Message: "updated", FromVersion: "1.0.0", ToVersion: "1.1.0",
		BackupLocation: "/srv/app/backup_20250731_200125",
		Applied:        &update.ApplyResult{Updated: []string{"app.py", "static/a.css"}, Skipped: []string{"postgre.py"}},
	}}
	s := New(u, WithOnApplied(func(r *update.Result) { applied <- r }))

	resp := serve(t, s, http.MethodPost, "/api/update/apply", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}

	var got ApplyResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := ApplyResponse{
		ID: "1", Success: true, Message: "updated", BackupLocation: "/srv/app/backup_20250731_200125",
		FromVersion: "1.0.0", ToVersion: "1.1.0", UpdatedFiles: 2, SkippedFiles: 1, RestartRequired: true,
	}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	select {
	case r := <-applied:
		if r.ID != "1" {
			t.Errorf("callback result id = %s", r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Error("applied callback not called")
	}
}

func TestApplyUpToDateSkipsCallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := make(chan struct{}, 1)
	u := &fakeUpdater{result: &update.Result{ID: "1", Success: true, Message: "already up to date"}}
	s := New(u, WithOnApplied(func(*update.Result) { called <- struct{}{} }))

	resp := serve(t, s, http.MethodPost, "/api/update/apply", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if decode(t, resp)["restartRequired"] != false {
		t.Error("restartRequired = true for an up-to-date install")
	}

	select {
	case <-called:
		t.Error("callback called without an applied update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	u := &fakeUpdater{state: update.StateDownloading}

	resp := serve(t, New(u), http.MethodGet, "/api/update/status", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	payload := decode(t, resp)
	if payload["state"] != "downloading" || payload["busy"] != true {
		t.Errorf("payload = %v", payload)
	}
	if payload["currentVersion"] != "1.0.0" {
		t.Errorf("currentVersion = %v", payload["currentVersion"])
	}
}

func TestHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &fakeHistory{attempts: []update.Attempt{{ID: "a", Outcome: types.OutcomeSucceeded}}}
	s := New(&fakeUpdater{}, WithHistory(h))

	resp := serve(t, s, http.MethodGet, "/api/update/history?limit=5", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if h.limit != 5 {
		t.Errorf("limit = %d, want 5", h.limit)
	}
	attempts, ok := decode(t, resp)["attempts"].([]any)
	if !ok || len(attempts) != 1 {
		t.Errorf("attempts = %v", attempts)
	}

	resp = serve(t, s, http.MethodGet, "/api/update/history?limit=abc", "")
	if resp.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.Code)
	}

	h.err = errors.New("db locked")
	resp = serve(t, s, http.MethodGet, "/api/update/history", "")
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("failing history status = %d, want 500", resp.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resp := serve(t, New(&fakeUpdater{}), http.MethodGet, "/api/update/history", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if got := errorCode(t, resp); got != "history_disabled" {
		t.Errorf("code = %q", got)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resp := serve(t, New(&fakeUpdater{panics: true}), http.MethodPost, "/api/update/apply", "")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
	if got := errorCode(t, resp); got != "internal" {
		t.Errorf("code = %q, want internal", got)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp := httptest.NewRecorder()
	New(&fakeUpdater{}).Handler().ServeHTTP(resp, req)

	if got := resp.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
	if decode(t, resp)["ok"] != true {
		t.Error("health not ok")
	}
}

package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kavyleancoder/meepo/internal/inference"
)

type fakeRunner struct {
	result string
	err    error
	delay  time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, initialMessage, system string, opts inference.Options) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

func testCard() AgentCard {
	return AgentCard{
		Name:           "meepo",
		Description:    "Personal AI agent",
		URL:            "http://localhost:8081",
		Capabilities:   []string{"file_operations"},
		Authentication: AuthScheme{Schemes: []string{"bearer"}},
	}
}

func TestHandleAgentCard(t *testing.T) {
	s := NewServer(&fakeRunner{}, testCard(), "", "", nil)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var card AgentCard
	if err := json.Unmarshal(w.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Name != "meepo" {
		t.Fatalf("card.Name = %q", card.Name)
	}
}

func TestSubmitAndPollTask(t *testing.T) {
	s := NewServer(&fakeRunner{result: "hello back"}, testCard(), "", "", nil)

	submitReq := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(`{"prompt":"hi"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, submitReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", w.Code)
	}
	var resp TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if resp.Status != TaskSubmitted {
		t.Fatalf("status = %q, want Submitted", resp.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getReq := httptest.NewRequest(http.MethodGet, "/a2a/tasks/"+resp.TaskID, nil)
		gw := httptest.NewRecorder()
		s.Handler().ServeHTTP(gw, getReq)
		var got TaskResponse
		json.Unmarshal(gw.Body.Bytes(), &got)
		if got.Status == TaskCompleted {
			if got.Result == nil || *got.Result != "hello back" {
				t.Fatalf("unexpected result: %+v", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never completed")
}

func TestCancelCompletedTaskConflicts(t *testing.T) {
	s := NewServer(&fakeRunner{result: "done"}, testCard(), "", "", nil)
	submitReq := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(`{"prompt":"hi"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, submitReq)
	var resp TaskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		t2, _ := s.tasks.Get(resp.TaskID)
		done := t2.Status == TaskCompleted
		s.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/a2a/tasks/"+resp.TaskID, nil)
	dw := httptest.NewRecorder()
	s.Handler().ServeHTTP(dw, delReq)
	if dw.Code != http.StatusConflict {
		t.Fatalf("delete status = %d, want 409", dw.Code)
	}
}

func TestCancelWorkingTaskSucceeds(t *testing.T) {
	s := NewServer(&fakeRunner{result: "done", delay: time.Second}, testCard(), "", "", nil)
	submitReq := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(`{"prompt":"hi"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, submitReq)
	var resp TaskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	delReq := httptest.NewRequest(http.MethodDelete, "/a2a/tasks/"+resp.TaskID, nil)
	dw := httptest.NewRecorder()
	s.Handler().ServeHTTP(dw, delReq)
	if dw.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", dw.Code)
	}

	delReq2 := httptest.NewRequest(http.MethodDelete, "/a2a/tasks/"+resp.TaskID, nil)
	dw2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(dw2, delReq2)
	if dw2.Code != http.StatusConflict {
		t.Fatalf("second delete status = %d, want 409", dw2.Code)
	}
}

func TestGetUnknownTaskNotFound(t *testing.T) {
	s := NewServer(&fakeRunner{}, testCard(), "", "", nil)
	req := httptest.NewRequest(http.MethodGet, "/a2a/tasks/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBodyTooLargeRejectedByContentLength(t *testing.T) {
	s := NewServer(&fakeRunner{}, testCard(), "", "", nil)
	body := `{"prompt":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(body))
	req.ContentLength = maxRequestBodyBytes + 1
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestConcurrentTaskCap(t *testing.T) {
	s := NewServer(&fakeRunner{result: "ok", delay: time.Second}, testCard(), "", "", nil)
	for i := 0; i < maxConcurrentTasks; i++ {
		req := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(fmt.Sprintf(`{"prompt":"p%d"}`, i)))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("task %d: status = %d, want 201", i, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/a2a/tasks", strings.NewReader(`{"prompt":"overflow"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("overflow status = %d, want 429", w.Code)
	}
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	s := NewServer(&fakeRunner{}, testCard(), "", "secret-token", nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	req2.Header.Set("Authorization", "Bearer wrong")
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, req2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-token status = %d, want 401", w2.Code)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	req3.Header.Set("Authorization", "Bearer secret-token")
	w3 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("valid-token status = %d, want 200", w3.Code)
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"webhookchat/services/hookstore/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(Config{
		Store: store.NewMemoryStore(),
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestSaveRetrieveDeleteRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, http.MethodGet, ts.URL+"/webhook/retrieve?user_app_id=u1", "")
	if status != http.StatusOK || string(bytes.TrimSpace(body)) != "[]" {
		t.Fatalf("expected empty array, got %d %s", status, body)
	}

	save := `{"user_app_id":"u1","conversation_id":"c1","title":"Trip","messages":[{"id":"m1","text":"hi","sender":"user","timestamp":"2025-03-01T09:00:00.000Z"}]}`
	if status, body := do(t, http.MethodPost, ts.URL+"/webhook/save", save); status != http.StatusOK {
		t.Fatalf("save status %d: %s", status, body)
	}
	save2 := `{"user_app_id":"u1","conversation_id":"c1","title":"Trip","messages":[]}`
	if status, _ := do(t, http.MethodPost, ts.URL+"/webhook/save", save2); status != http.StatusOK {
		t.Fatalf("second save status %d", status)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/webhook/retrieve?user_app_id=u1", "")
	if status != http.StatusOK {
		t.Fatalf("retrieve status %d", status)
	}
	var convs []map[string]any
	if err := json.Unmarshal(body, &convs); err != nil {
		t.Fatalf("decode retrieve: %v", err)
	}
	if len(convs) != 1 || convs[0]["id"] != "c1" || convs[0]["user_app_id"] != "u1" {
		t.Fatalf("unexpected conversations: %s", body)
	}
	if convs[0]["created_at"] != "2025-03-01T10:01:00.000Z" || convs[0]["updated_at"] != "2025-03-01T10:02:00.000Z" {
		t.Fatalf("unexpected timestamps: %v / %v", convs[0]["created_at"], convs[0]["updated_at"])
	}
	if msgs, ok := convs[0]["messages"].([]any); !ok || len(msgs) != 0 {
		t.Fatalf("messages should be the last saved array, got %v", convs[0]["messages"])
	}

	del := `{"user_app_id":"u1","conversation_id":"c1"}`
	if status, _ := do(t, http.MethodDelete, ts.URL+"/webhook/delete", del); status != http.StatusOK {
		t.Fatalf("delete status %d", status)
	}
	if status, _ := do(t, http.MethodDelete, ts.URL+"/webhook/delete", del); status != http.StatusNotFound {
		t.Fatalf("second delete expected 404, got %d", status)
	}
}

func TestSaveValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{
		`not json`,
		`{"conversation_id":"c1","messages":[]}`,
		`{"user_app_id":"u1","conversation_id":"c1","messages":{"chat_history":[]}}`,
	} {
		if status, _ := do(t, http.MethodPost, ts.URL+"/webhook/save", body); status != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, status)
		}
	}
	if status, _ := do(t, http.MethodGet, ts.URL+"/webhook/retrieve", ""); status != http.StatusBadRequest {
		t.Fatalf("retrieve without user expected 400, got %d", status)
	}
	if status, _ := do(t, http.MethodGet, ts.URL+"/webhook/save", ""); status != http.StatusMethodNotAllowed {
		t.Fatalf("GET save expected 405, got %d", status)
	}
}

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/Antony-Jia/codex-terminal-manage/src/config"
	"github.com/Antony-Jia/codex-terminal-manage/src/handler/session"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func testRouter(t *testing.T) (*gin.Engine, *session.Manager, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	settings := &config.Settings{
		LogsDir:      t.TempDir(),
		DefaultCwd:   t.TempDir(),
		GitDiffDelay: 10 * time.Millisecond,
	}
	manager := session.NewManager(session.NewPipeBackend(), st, settings)
	return SetupRouter(manager, st, true), manager, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := testRouter(t)
	w := doJSON(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestProfileEndpoints(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/profiles", `{"name":"sh","command":"/bin/sh","args":["-l"],"cwd":"/tmp","env":{"A":"1"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "sh" || created.ID == 0 {
		t.Fatalf("created = %+v", created)
	}

	t.Run("DuplicateName", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/profiles", `{"name":"sh","command":"/bin/bash"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "配置名称已存在") {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("List", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/profiles", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"name":"sh"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, "/profiles/9999", `{"name":"x"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "配置不存在") {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("Update", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, "/profiles/1", `{"command":"/bin/bash"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"command":"/bin/bash"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		w := doJSON(t, r, http.MethodDelete, "/profiles/9999", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		w := doJSON(t, r, http.MethodDelete, "/profiles/1", "")
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func createProfile(t *testing.T, r *gin.Engine) int {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/profiles", `{"name":"cat","command":"cat"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create profile status = %d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return created.ID
}

func TestSessionEndpoints(t *testing.T) {
	r, manager, _ := testRouter(t)
	profileID := createProfile(t, r)

	t.Run("QuantityClampedLow", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":0}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
		}
		var resp struct {
			Sessions []struct {
				SessionID string `json:"session_id"`
				Status    string `json:"status"`
			} `json:"sessions"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
		}
		if resp.Sessions[0].Status != "running" {
			t.Errorf("status = %q", resp.Sessions[0].Status)
		}
		if !manager.Has(resp.Sessions[0].SessionID) {
			t.Error("context should be registered")
		}
	})

	t.Run("QuantityClampedHigh", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":25}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Sessions []struct{} `json:"sessions"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Sessions) != 10 {
			t.Errorf("sessions = %d, want 10", len(resp.Sessions))
		}
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":9999,"quantity":1}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/sessions", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var infos []struct {
			SessionID string `json:"session_id"`
			Profile   struct {
				ID int `json:"id"`
			} `json:"profile"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(infos) != 11 {
			t.Errorf("sessions = %d, want 11", len(infos))
		}
		for i := 1; i < len(infos); i++ {
			if infos[i].CreatedAt.After(infos[i-1].CreatedAt) {
				t.Errorf("session %d is newer than session %d", i, i-1)
			}
		}
		if len(infos) > 0 && infos[0].Profile.ID != profileID {
			t.Errorf("profile id = %d", infos[0].Profile.ID)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		w := doJSON(t, r, http.MethodDelete, "/sessions/no-such-session", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestDeleteSessionCleansUp(t *testing.T) {
	r, manager, st := testRouter(t)
	createProfile(t, r)

	w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			LogPath   string `json:"log_path"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := resp.Sessions[0].SessionID

	w = doJSON(t, r, http.MethodDelete, "/sessions/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if manager.Has(id) {
		t.Error("context should be gone")
	}
	if _, err := st.GetSession(id); err == nil {
		t.Error("record should be gone")
	}
}

func TestGetLogBeforeFirstAttach(t *testing.T) {
	r, _, _ := testRouter(t)
	createProfile(t, r)

	w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":1}`)
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := resp.Sessions[0].SessionID

	// No child has been spawned, so there is no log to read yet.
	w = doJSON(t, r, http.MethodGet, "/logs/"+id, "")
	if w.Code != http.StatusNotFound {
		// The log file does not exist before first attach.
		t.Errorf("status = %d body=%s", w.Code, w.Body.String())
	}

	t.Run("UnknownSession", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/logs/ghost", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestGitChangesOutsideRepository(t *testing.T) {
	r, _, _ := testRouter(t)
	createProfile(t, r)

	w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":1}`)
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, r, http.MethodGet, "/git_changes/"+resp.Sessions[0].SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"git":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "not a git repository") {
		t.Errorf("body = %s", w.Body.String())
	}

	t.Run("UnknownSession", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/git_changes/ghost", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestGitChangesCleanRepositoryHasEmptyStatus(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	repo := t.TempDir()
	initCmd := exec.Command("git", "init")
	initCmd.Dir = repo
	if out, err := initCmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v (%s)", err, out)
	}

	r, _, _ := testRouter(t)
	body := fmt.Sprintf(`{"name":"repo","command":"cat","cwd":%q}`, repo)
	if w := doJSON(t, r, http.MethodPost, "/profiles", body); w.Code != http.StatusCreated {
		t.Fatalf("profile status = %d body=%s", w.Code, w.Body.String())
	}
	w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":1}`)
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, r, http.MethodGet, "/git_changes/"+resp.Sessions[0].SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"git":true`) {
		t.Errorf("body = %s", w.Body.String())
	}
	// A clean working tree still carries the status field, as an empty list.
	if !strings.Contains(w.Body.String(), `"status":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestWebSocketUnknownSessionCloses4404(t *testing.T) {
	r, _, _ := testRouter(t)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/does-not-exist"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("err = %v, want close error", err)
	}
	if closeErr.Code != 4404 {
		t.Errorf("close code = %d, want 4404", closeErr.Code)
	}
}

func TestWebSocketEchoAndPing(t *testing.T) {
	r, manager, _ := testRouter(t)
	profileCmd := `{"name":"shell","command":"/bin/sh"}`
	if w := doJSON(t, r, http.MethodPost, "/profiles", profileCmd); w.Code != http.StatusCreated {
		t.Fatalf("profile status = %d", w.Code)
	}
	w := doJSON(t, r, http.MethodPost, "/sessions", `{"profile_id":1,"quantity":1}`)
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := resp.Sessions[0].SessionID
	defer manager.TerminateSession(id, "")

	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "input", "data": "echo ws-roundtrip\r"}); err != nil {
		t.Fatalf("write input: %v", err)
	}

	sawPong := false
	sawEcho := false
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !sawPong || !sawEcho {
		var msg struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read (pong=%v echo=%v): %v", sawPong, sawEcho, err)
		}
		switch msg.Type {
		case "pong":
			sawPong = true
		case "output":
			if strings.Contains(msg.Data, "ws-roundtrip") {
				sawEcho = true
			}
		}
	}
	if !sawPong {
		t.Error("no pong received")
	}
	if !sawEcho {
		t.Error("no echoed output received")
	}
}

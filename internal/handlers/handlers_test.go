package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/ssh"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/events"
	"github.com/gluk-w/teemux/internal/sshkeys"
	"github.com/gluk-w/teemux/internal/sshmanager"
	"github.com/gluk-w/teemux/internal/storage"
	"github.com/gluk-w/teemux/internal/terminal"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	prevDB := database.DB
	database.DB = db

	Hub = events.NewHub(events.DefaultSubscriberBuffer)
	Terminals = terminal.NewManager(Hub, terminal.Config{GracePeriod: 100 * time.Millisecond, RetryDelay: 100 * time.Millisecond})
	Sessions = sshmanager.NewSSHManager(Terminals, Hub, sshmanager.Config{ConnectTimeout: 5 * time.Second})
	Store = storage.New(db)
	KeysDir = filepath.Join(t.TempDir(), "keys")
	SnippetDelay = 10 * time.Millisecond

	r := chi.NewRouter()
	RegisterRoutes(r)
	ts := httptest.NewServer(r)

	t.Cleanup(func() {
		ts.Close()
		Sessions.CloseAll()
		Terminals.Stop()
		Hub.CloseAll()
		database.Close()
		database.DB = prevDB
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && data[0] == '{' {
		json.Unmarshal(data, &out)
	}
	return resp, out
}

// startEchoServer runs an SSH server accepting password "pw" whose shell
// echoes input back.
func startEchoServer(t *testing.T) (string, int) {
	t.Helper()
	kp, err := sshkeys.GenerateKeyPair("host", "")
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, _ := sshkeys.ParsePrivateKey(kp.PrivateKeyPEM, "")
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == "pw" {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(c, cfg)
				if err != nil {
					c.Close()
					return
				}
				defer sconn.Close()
				go ssh.DiscardRequests(reqs)
				for nc := range chans {
					ch, creqs, err := nc.Accept()
					if err != nil {
						continue
					}
					go func() {
						for req := range creqs {
							req.Reply(req.Type == "pty-req" || req.Type == "shell" || req.Type == "window-change", nil)
							if req.Type == "shell" {
								go io.Copy(ch, ch)
							}
						}
					}()
				}
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("unexpected health %v", body)
	}
}

func TestHostCRUD(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/hosts", map[string]interface{}{
		"label": "web", "hostname": "web.internal", "username": "deploy", "password": "secret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%v)", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("no id in %v", body)
	}
	if _, ok := body["password"]; ok {
		t.Error("password leaked in response")
	}
	if body["password_masked"] != "****cret" {
		t.Errorf("password_masked = %v", body["password_masked"])
	}

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/v1/hosts/"+id, map[string]interface{}{"port": 2022})
	if resp.StatusCode != http.StatusOK || body["port"] != float64(2022) {
		t.Errorf("update = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/hosts", map[string]interface{}{"hostname": "x"})
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "validation" {
		t.Errorf("invalid create = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/hosts/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/hosts/"+id, nil)
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_found" {
		t.Errorf("get deleted = %d %v", resp.StatusCode, body)
	}
}

func TestImportHosts(t *testing.T) {
	ts := setupTestServer(t)

	yamlDoc := "hosts:\n  - hostname: a.example.com\n    username: root\n  - hostname: b.example.com\n    username: root\n    auth_type: agent\n"
	resp, err := http.Post(ts.URL+"/api/v1/hosts/import", "application/yaml", strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp.StatusCode)
	}

	hosts, err := Store.ListHosts()
	if err != nil || len(hosts) != 2 {
		t.Errorf("ListHosts = %d, %v", len(hosts), err)
	}
}

func TestGenerateKey(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/keys", map[string]string{"name": "deploy"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	if !strings.HasPrefix(body["fingerprint"].(string), "SHA256:") || body["path"] != filepath.Join(KeysDir, "deploy") {
		t.Errorf("unexpected key %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/keys", map[string]string{"name": "deploy"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate key status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/keys", map[string]string{"name": "../escape"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad name status = %d", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	hostname, port := startEchoServer(t)

	host, err := Store.CreateHost(storage.HostInput{
		Hostname: &hostname, Port: &port, Username: ptr("u"), Password: ptr("pw"),
	})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]string{"host_id": host.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d %v", resp.StatusCode, body)
	}
	sessionID := body["id"].(string)
	terminalID := body["terminal_id"].(string)
	if body["status"] != "connected" {
		t.Errorf("status = %v", body["status"])
	}

	rec, _ := Store.GetHostRecord(host.ID)
	if rec.ConnectionCount != 1 || rec.LastConnected == nil {
		t.Errorf("host not touched: %+v", rec)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/data", map[string]string{"data": "ls\n"})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("send data = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/resize", map[string]int{"rows": 30, "cols": 100})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("resize = %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/resize", map[string]int{"rows": 0, "cols": 100})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero resize = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("delete live session = %d", resp.StatusCode)
	}

	time.Sleep(150 * time.Millisecond)
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sessionID+"/end", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "disconnected" {
		t.Fatalf("end session = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/data", map[string]string{"data": "x"})
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_found" {
		t.Errorf("send after end = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete ended session = %d", resp.StatusCode)
	}

	evResp, err := http.Get(ts.URL + "/api/v1/hosts/" + host.ID + "/events?limit=1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var evs []sshmanager.ConnectionEvent
	json.NewDecoder(evResp.Body).Decode(&evs)
	evResp.Body.Close()
	if len(evs) != 1 || evs[0].Type != sshmanager.EventDisconnected {
		t.Errorf("recent events = %+v", evs)
	}
}

func TestSessionErrors(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "validation" {
		t.Errorf("missing host_id = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]string{"host_id": "nope"})
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_found" {
		t.Errorf("unknown host = %d %v", resp.StatusCode, body)
	}

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	host, err := Store.CreateHost(storage.HostInput{Hostname: ptr("127.0.0.1"), Port: &port, Username: ptr("u"), Password: ptr("pw")})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]string{"host_id": host.ID})
	if resp.StatusCode != http.StatusBadGateway || body["kind"] != "connection" {
		t.Errorf("refused = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/hosts/"+host.ID+"/ratelimit", nil)
	if resp.StatusCode != http.StatusOK || body["consec_failures"] != float64(1) {
		t.Errorf("ratelimit = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/session-x/end", nil)
	if resp.StatusCode != http.StatusConflict || body["kind"] != "session" {
		t.Errorf("end unknown = %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/session-x", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown = %d", resp.StatusCode)
	}
}

func TestUpdateCredentialsResetsRateLimit(t *testing.T) {
	ts := setupTestServer(t)

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	host, err := Store.CreateHost(storage.HostInput{Hostname: ptr("127.0.0.1"), Port: &port, Username: ptr("u"), Password: ptr("pw")})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]string{"host_id": host.ID})

	rlURL := ts.URL + "/api/v1/hosts/" + host.ID + "/ratelimit"
	if _, body := doJSON(t, http.MethodGet, rlURL, nil); body["consec_failures"] != float64(1) {
		t.Fatalf("ratelimit before update = %v", body)
	}

	doJSON(t, http.MethodPut, ts.URL+"/api/v1/hosts/"+host.ID, map[string]interface{}{"description": "db"})
	if _, body := doJSON(t, http.MethodGet, rlURL, nil); body["consec_failures"] != float64(1) {
		t.Errorf("non-credential update reset the limit: %v", body)
	}

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/api/v1/hosts/"+host.ID, map[string]interface{}{"password": "rotated-pw"})
	if resp.StatusCode != http.StatusOK || body["password_masked"] != "****d-pw" {
		t.Fatalf("update = %d %v", resp.StatusCode, body)
	}
	if _, body := doJSON(t, http.MethodGet, rlURL, nil); body["consec_failures"] != float64(0) {
		t.Errorf("ratelimit after credential update = %v", body)
	}
}

func TestSnippetsRunInSessionTerminal(t *testing.T) {
	ts := setupTestServer(t)
	hostname, port := startEchoServer(t)
	host, err := Store.CreateHost(storage.HostInput{
		Hostname: &hostname, Port: &port, Username: ptr("u"), Password: ptr("pw"),
	})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/snippets", map[string]interface{}{
		"name": "whoami", "command": "whoami", "run_on_connect": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create snippet = %d %v", resp.StatusCode, body)
	}
	onConnectID := body["id"].(string)
	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/snippets", map[string]interface{}{
		"name": "disk", "command": "df -h",
	})
	manualID := body["id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]interface{}{
		"host_id": host.ID, "snippet_ids": []string{"missing"},
	})
	if resp.StatusCode != http.StatusNotFound || len(Sessions.GetAllSessions()) != 0 {
		t.Fatalf("unknown snippet = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", map[string]interface{}{
		"host_id": host.ID, "snippet_ids": []string{onConnectID, manualID},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d %v", resp.StatusCode, body)
	}
	terminalID := body["terminal_id"].(string)

	bytesOut := func() int64 {
		info, _ := Terminals.Get(terminalID)
		return info.BytesOut
	}
	deadline := time.Now().Add(3 * time.Second)
	for bytesOut() < int64(len("whoami\n")) {
		if time.Now().After(deadline) {
			t.Fatalf("on-connect snippet not sent, bytes out %d", bytesOut())
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := bytesOut(); got != int64(len("whoami\n")) {
		t.Errorf("bytes out after connect = %d, only the run_on_connect snippet should run", got)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/snippets/"+manualID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("run snippet = %d", resp.StatusCode)
	}
	if got := bytesOut(); got != int64(len("whoami\n")+len("df -h\n")) {
		t.Errorf("bytes out after run = %d", got)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+terminalID+"/snippets/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown snippet run = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/terminal-x/snippets/"+manualID, nil)
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_found" {
		t.Errorf("unknown terminal run = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/snippets/"+manualID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete snippet = %d", resp.StatusCode)
	}
}

func TestLocalTerminal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("local terminals need a unix pty")
	}
	ts := setupTestServer(t)
	sub := Hub.Subscribe()
	defer sub.Close()

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/local", map[string]int{"rows": 24, "cols": 80})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create local = %d %v", resp.StatusCode, body)
	}
	id := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/"+id+"/data", map[string]string{"data": "echo teemux-$((40+2))\n"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("send = %d", resp.StatusCode)
	}

	var out strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), "teemux-42") {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed")
			}
			if p, ok := ev.Payload.(events.TerminalDataPayload); ok && p.TerminalID == id {
				out.WriteString(p.Data)
			}
		case <-deadline:
			t.Fatalf("no shell output, got %q", out.String())
		}
	}

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/terminals/"+id, nil)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		t.Fatalf("close = %d %v", resp.StatusCode, body)
	}
	time.Sleep(250 * time.Millisecond)
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/terminals/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close = %d", resp.StatusCode)
	}
}

func TestExecTerminalWithoutBackend(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/terminals/exec", map[string]string{"target": "web"})
	if resp.StatusCode != http.StatusConflict || body["kind"] != "session" {
		t.Errorf("exec without backend = %d %v", resp.StatusCode, body)
	}
}

func ptr[T any](v T) *T { return &v }

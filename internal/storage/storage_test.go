package storage

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/sshmanager"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.Close()
		database.DB = prev
	})
	return New(db)
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndGetHost(t *testing.T) {
	s := setupTestStore(t)

	rec, err := s.CreateHost(HostInput{
		Hostname:          ptr("db.internal"),
		Username:          ptr("admin"),
		Password:          ptr("hunter2"),
		KeepAliveInterval: ptr(15),
		ConnectionTimeout: ptr(2500),
	})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	if rec.Port != 22 || rec.AuthType != "password" || rec.Label != "admin@db.internal" {
		t.Errorf("unexpected defaults: %+v", rec)
	}
	if rec.Password == "" || rec.Password == "hunter2" {
		t.Errorf("password stored as %q", rec.Password)
	}

	host, err := s.GetHost(rec.ID)
	if err != nil {
		t.Fatalf("GetHost: %v", err)
	}
	if host.Password != "hunter2" || host.AuthType != sshmanager.AuthPassword {
		t.Errorf("unexpected host %+v", host)
	}
	if host.KeepAliveInterval != 15*time.Second || host.ConnectionTimeout != 2500*time.Millisecond {
		t.Errorf("durations not converted: %+v", host)
	}

	missing, err := s.GetHost("nope")
	if err != nil || missing != nil {
		t.Errorf("GetHost(missing) = %+v, %v", missing, err)
	}
}

func TestCreateHostValidation(t *testing.T) {
	s := setupTestStore(t)

	cases := []HostInput{
		{Username: ptr("u")},
		{Hostname: ptr("h")},
		{Hostname: ptr("h"), Username: ptr("u"), Port: ptr(0)},
		{Hostname: ptr("h"), Username: ptr("u"), AuthType: ptr("telepathy")},
	}
	for i, in := range cases {
		if _, err := s.CreateHost(in); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestUpdateDeleteAndTouch(t *testing.T) {
	s := setupTestStore(t)

	rec, err := s.CreateHost(HostInput{Hostname: ptr("a"), Username: ptr("u"), Label: ptr("A")})
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	updated, err := s.UpdateHost(rec.ID, HostInput{Port: ptr(2222), Favorite: ptr(true)})
	if err != nil {
		t.Fatalf("UpdateHost: %v", err)
	}
	if updated.Port != 2222 || !updated.Favorite || updated.Label != "A" {
		t.Errorf("unexpected update result %+v", updated)
	}

	if _, err := s.UpdateHost("missing", HostInput{}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("UpdateHost(missing): %v", err)
	}

	if err := s.TouchHost(rec.ID); err != nil {
		t.Fatalf("TouchHost: %v", err)
	}
	if err := s.TouchHost(rec.ID); err != nil {
		t.Fatalf("TouchHost: %v", err)
	}
	got, _ := s.GetHostRecord(rec.ID)
	if got.ConnectionCount != 2 || got.LastConnected == nil {
		t.Errorf("touch not recorded: %+v", got)
	}

	if err := s.DeleteHost(rec.ID); err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}
	if err := s.DeleteHost(rec.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("second DeleteHost: %v", err)
	}
}

func TestImportYAML(t *testing.T) {
	s := setupTestStore(t)

	data := []byte(`
hosts:
  - label: web
    hostname: web.example.com
    username: deploy
    auth_type: key
    private_key_path: ~/.ssh/id_ed25519
    favorite: true
  - hostname: db.example.com
    port: 2200
    username: root
    password: s3cret
`)
	created, err := s.ImportYAML(data)
	if err != nil {
		t.Fatalf("ImportYAML: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("imported %d hosts", len(created))
	}

	hosts, err := s.ListHosts()
	if err != nil {
		t.Fatalf("ListHosts: %v", err)
	}
	if len(hosts) != 2 || hosts[0].Label != "web" {
		t.Errorf("expected favorite first, got %+v", hosts)
	}

	db, err := s.GetHost(created[1].ID)
	if err != nil || db.Port != 2200 || db.Password != "s3cret" {
		t.Errorf("GetHost = %+v, %v", db, err)
	}

	if _, err := s.ImportYAML([]byte("hosts: [")); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("malformed file: %v", err)
	}
}

func TestKeys(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.SaveKey("deploy", "/keys/deploy", "ssh-ed25519 AAAA deploy\n", "SHA256:x", "pass"); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := s.SaveKey("dup", "/keys/deploy", "", "", ""); err == nil {
		t.Error("expected duplicate path to fail")
	}

	key, err := s.GetSSHKey("/keys/deploy")
	if err != nil || key == nil || key.Passphrase != "pass" || key.Path != "/keys/deploy" {
		t.Fatalf("GetSSHKey = %+v, %v", key, err)
	}
	if key, err := s.GetSSHKey("/keys/none"); err != nil || key != nil {
		t.Errorf("GetSSHKey(missing) = %+v, %v", key, err)
	}

	keys, err := s.ListKeys()
	if err != nil || len(keys) != 1 || keys[0].PublicKey != "ssh-ed25519 AAAA deploy" {
		t.Errorf("ListKeys = %+v, %v", keys, err)
	}
}

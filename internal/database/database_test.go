package database

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm/logger"
)

// setupTestDB opens a throwaway database and installs it as DB.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	prev := DB
	DB = db
	t.Cleanup(func() {
		Close()
		DB = prev
	})
}

func TestHostDefaults(t *testing.T) {
	setupTestDB(t)

	h := Host{ID: "h1", Label: "web", Hostname: "web.example.com", Username: "deploy"}
	if err := DB.Create(&h).Error; err != nil {
		t.Fatalf("create host: %v", err)
	}

	var loaded Host
	if err := DB.First(&loaded, "id = ?", "h1").Error; err != nil {
		t.Fatalf("load host: %v", err)
	}
	if loaded.Port != 22 {
		t.Errorf("expected default port 22, got %d", loaded.Port)
	}
	if loaded.AuthType != "password" {
		t.Errorf("expected default auth type password, got %q", loaded.AuthType)
	}
	if loaded.LastConnected != nil || loaded.ConnectionCount != 0 {
		t.Errorf("unexpected connection bookkeeping: %+v", loaded)
	}
}

func TestSSHKeyPathIsUnique(t *testing.T) {
	setupTestDB(t)

	if err := DB.Create(&SSHKey{ID: "k1", Name: "a", Path: "/keys/id"}).Error; err != nil {
		t.Fatalf("create key: %v", err)
	}
	if err := DB.Create(&SSHKey{ID: "k2", Name: "b", Path: "/keys/id"}).Error; err == nil {
		t.Fatal("expected unique constraint violation on path")
	}
}

func TestSettings(t *testing.T) {
	setupTestDB(t)

	if _, err := GetSetting("missing"); err == nil {
		t.Error("expected error for missing setting")
	}
	if err := SetSetting("k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := SetSetting("k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, err := GetSetting("k"); err != nil || v != "v2" {
		t.Errorf("GetSetting = %q, %v", v, err)
	}
	if err := DeleteSetting("k"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if _, err := GetSetting("k"); err == nil {
		t.Error("setting still present after delete")
	}
}

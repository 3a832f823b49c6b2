package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8080")
	if p, err := Port("TEST_PORT", "1"); err != nil || p != "8080" {
		t.Fatalf("expected 8080, got %q (%v)", p, err)
	}
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "-3")
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_LIST", " a, ,b ,c")

	if got := Int("TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := Int("TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected truthy bool")
	}
	if Bool("TEST_UNSET_BOOL", false) {
		t.Fatal("expected fallback false")
	}
	if got := Duration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	list := List("TEST_LIST")
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Fatalf("unexpected list %v", list)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CLINICBOOK_DOTENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CLINICBOOK_DOTENV_VALUE", "")
	os.Unsetenv("CLINICBOOK_DOTENV_VALUE")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("CLINICBOOK_DOTENV_VALUE"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}

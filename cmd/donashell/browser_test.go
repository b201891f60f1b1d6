package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareProfileDir_RemovesStaleLocks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range singletonFiles {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(dir, "Local State")
	_ = os.WriteFile(keep, []byte("{}"), 0644)

	if err := prepareProfileDir(dir); err != nil {
		t.Fatal(err)
	}
	for _, name := range singletonFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", name)
		}
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("other profile files must stay: %v", err)
	}
}

func TestPrepareProfileDir_Creates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := prepareProfileDir(dir); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("profile dir not created: %v", err)
	}
	if err := prepareProfileDir(""); err != nil {
		t.Errorf("empty dir should be a no-op, got %v", err)
	}
}

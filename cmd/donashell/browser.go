package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var singletonFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// prepareProfileDir creates the Chrome profile and removes lock files a
// killed Chrome left behind; Chrome refuses to start while they exist.
func prepareProfileDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	for _, name := range singletonFiles {
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			slog.Warn("removed stale lock", "file", name)
		}
	}
	return nil
}

package bridge

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var crashedPrefsReplacer = strings.NewReplacer(
	`"exit_type":"Crashed"`, `"exit_type":"Normal"`,
	`"exit_type": "Crashed"`, `"exit_type": "Normal"`,
	`"exited_cleanly":false`, `"exited_cleanly":true`,
	`"exited_cleanly": false`, `"exited_cleanly": true`,
)

func prefsPath(profileDir string) string {
	return filepath.Join(profileDir, "Default", "Preferences")
}

// MarkCleanExit rewrites the profile so Chrome does not offer to restore the
// previous session on the next start.
func MarkCleanExit(profileDir string) {
	path := prefsPath(profileDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	patched := crashedPrefsReplacer.Replace(string(data))
	if patched != string(data) {
		if err := os.WriteFile(path, []byte(patched), 0600); err != nil {
			slog.Error("patch prefs", "err", err)
		}
	}
}

func WasUncleanExit(profileDir string) bool {
	data, err := os.ReadFile(prefsPath(profileDir))
	if err != nil {
		return false
	}
	prefs := string(data)
	return strings.Contains(prefs, `"exit_type":"Crashed"`) || strings.Contains(prefs, `"exit_type": "Crashed"`)
}

// ClearChromeSessions removes saved tabs so a restart opens only the surface.
func ClearChromeSessions(profileDir string) {
	sessionsDir := filepath.Join(profileDir, "Default", "Sessions")

	// Windows keeps file locks for a moment after Chrome exits
	const maxRetries = 3
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if err = os.RemoveAll(sessionsDir); err == nil {
			slog.Debug("cleared chrome sessions dir")
			return
		}
	}
	slog.Warn("failed to clear chrome sessions dir", "err", err)
}

// PrepareProfile repairs a profile left behind by a crash. It reports
// whether a repair was needed.
func PrepareProfile(profileDir string) bool {
	if profileDir == "" || !WasUncleanExit(profileDir) {
		return false
	}
	slog.Info("previous run did not exit cleanly, repairing profile", "profile", profileDir)
	MarkCleanExit(profileDir)
	ClearChromeSessions(profileDir)
	return true
}

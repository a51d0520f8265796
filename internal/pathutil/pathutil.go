package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultStateDir = "~/.wabridge"

// ExpandHomePath replaces a leading ~ with the current user's home
// directory. Paths it cannot expand are returned unchanged.
func ExpandHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// ResolveStateDir returns the configured state directory, defaulting to
// ~/.wabridge, home-expanded and cleaned.
func ResolveStateDir(configured string) string {
	dir := strings.TrimSpace(configured)
	if dir == "" {
		dir = defaultStateDir
	}
	return filepath.Clean(ExpandHomePath(dir))
}

// ResolveStateFile joins filename onto the resolved state directory.
func ResolveStateFile(configured, filename string) string {
	return filepath.Join(ResolveStateDir(configured), filename)
}

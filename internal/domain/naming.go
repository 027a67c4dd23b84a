package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// File and directory names.
const (
	StateDirName   = ".crewstate"
	ConfigFileName = "config.toml"
	GlobalDirName  = "crewstate"
)

// StateDir returns the state directory under root.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// RepoConfigPath returns the repository config path.
func RepoConfigPath(stateDir string) string {
	return filepath.Join(stateDir, ConfigFileName)
}

// GlobalConfigDir returns the global config directory under configHome.
func GlobalConfigDir(configHome string) string {
	return filepath.Join(configHome, GlobalDirName)
}

// GlobalLogPath returns the path to the global log file.
func GlobalLogPath(stateDir string) string {
	return filepath.Join(stateDir, "logs", "crewstate.log")
}

// ProjectLogPath returns the path to a project-specific log file.
func ProjectLogPath(stateDir, projectID string) string {
	return filepath.Join(stateDir, "logs", "project-"+SafeName(projectID)+".log")
}

// LockPath returns the lock file for key.
func LockPath(stateDir, key string) string {
	return filepath.Join(stateDir, "locks", SafeName(key)+".lock")
}

// emptyName stands for the empty identifier. SafeName never produces a lone '%' otherwise.
const emptyName = "%"

func isSafeNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '-'
}

// SafeName maps an identifier to a string usable as a single path element.
// Bytes outside [A-Za-z0-9._-] and a leading '.' are written as %XX, so
// distinct identifiers always map to distinct names.
func SafeName(id string) string {
	if id == "" {
		return emptyName
	}
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		if isSafeNameByte(c) && (i > 0 || c != '.') {
			b.WriteByte(c)
			continue
		}
		_, _ = fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// ParseSafeName returns the identifier that SafeName mapped to name.
func ParseSafeName(name string) (string, error) {
	if name == emptyName {
		return "", nil
	}
	id, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("decode name %q: %w", name, err)
	}
	return id, nil
}

var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateID checks that an identifier is non-empty and made of safe characters.
func ValidateID(id string) bool {
	return validIDPattern.MatchString(id)
}

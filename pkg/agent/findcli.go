package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// extraBinDirs are searched after PATH. Installers for the agent CLI
// commonly drop the binary in one of these without updating the
// daemon's environment.
func extraBinDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	dirs := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
	}
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, "bin"),
			filepath.Join(home, ".npm-global", "bin"),
		)
	}
	return dirs
}

// LookupCLI resolves the agent binary name to an absolute path, checking
// PATH first and then well-known install directories.
func LookupCLI(name string) (string, error) {
	if filepath.IsAbs(name) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("agent binary not found at %s", name)
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range extraBinDirs() {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("agent binary %q not found in PATH or known install directories", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

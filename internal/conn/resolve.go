package conn

import (
	"os"
	"os/exec"
	"path/filepath"
)

// commonBinDirs are searched after PATH when resolving a server command.
// Registry files often name bare binaries that package managers install
// outside the caller's PATH.
var commonBinDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/opt/homebrew/bin",
}

// resolveCommand locates the binary for a stdio server command.
//
// Resolution order:
//  1. Explicit paths (containing a separator) are used as-is if they exist.
//  2. The system PATH.
//  3. Common installation directories, including ~/.local/bin.
//
// Returns the resolved path and the list of locations searched, for error
// reporting when nothing matches.
func resolveCommand(command string) (string, []string) {
	if filepath.Base(command) != command {
		if _, err := os.Stat(command); err == nil {
			return command, nil
		}

		return "", []string{command}
	}

	searched := []string{"$PATH"}

	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	dirs := append([]string(nil), commonBinDirs...)
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, command)
		searched = append(searched, candidate)

		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", searched
}

// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveBinary resolves a configured media tool reference to an
// executable path. A reference containing a path separator must point
// directly at an executable file. A bare name is searched for:
//  1. ./name (current directory, useful for development)
//  2. name on PATH (via exec.LookPath)
//
// Returns the path to the binary or an error if not found, so a bad
// ffmpeg.binary_path surfaces at startup rather than mid-run.
func ResolveBinary(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty binary path")
	}

	// Explicit paths are taken at face value.
	if strings.ContainsRune(ref, filepath.Separator) {
		if isExecutable(ref) {
			return ref, nil
		}
		return "", fmt.Errorf("%s is not an executable file", ref)
	}

	// Check current directory
	localPath := "./" + ref
	if isExecutable(localPath) {
		return localPath, nil
	}

	// Find on PATH (LookPath already verifies executability)
	if path, err := exec.LookPath(ref); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", ref)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	// Check it's not a directory
	if info.IsDir() {
		return false
	}
	// Check executable bit (any of owner/group/other)
	mode := info.Mode()
	return mode&0111 != 0
}

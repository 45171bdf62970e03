//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var binPath string

// TestMain builds the CLI once for every test in the package.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "cloudmind-e2e")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	binPath = filepath.Join(dir, "cloudmind")

	build := exec.Command("go", "build", "-o", binPath, "./cmd/cloudmind")
	build.Dir = "../../"
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		fmt.Printf("Build failed: %s\n", out)
		os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

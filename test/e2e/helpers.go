//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// hostileEnv strips every cloud credential so nothing can reach a real
// account, and points HOME at an empty directory.
func hostileEnv(t *testing.T) []string {
	t.Helper()
	var env []string
	for _, e := range os.Environ() {
		switch {
		case strings.HasPrefix(e, "AWS_"), strings.HasPrefix(e, "AZURE_"),
			strings.HasPrefix(e, "GOOGLE_"), strings.HasPrefix(e, "KUBECONFIG="),
			strings.HasPrefix(e, "HOME="), strings.HasPrefix(e, "CLOUDMIND_"):
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"HOME="+t.TempDir(),
		"AWS_EC2_METADATA_DISABLED=true",
		"GITHUB_ACTIONS=true",
	)
}

// runCLI executes the binary and returns stdout and stderr separately.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Env = hostileEnv(t)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitForHealthy(t *testing.T, base string) {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	for i := 0; i < 60; i++ {
		resp, err := client.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", base)
}

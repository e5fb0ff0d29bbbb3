package preflight

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Result reports the outcome of a standalone status probe.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckServer verifies that the MatchMiner API answers an authenticated
// request. It makes a single attempt with a five second timeout.
func CheckServer(ctx context.Context, baseURL, token string, insecure bool) Result {
	const name = "MatchMiner"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing server url"}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing token"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // mirrors matchminer.insecure_skip_verify
	}
	client := &http.Client{Timeout: 5 * time.Second, Transport: transport}

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/api/trial?max_results=1", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Basic "+strings.TrimSpace(token))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeDialError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid token)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unexpected status (%d)", resp.StatusCode)}
	}
}

func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out (server unreachable)"
	}
	return fmt.Sprintf("unreachable (%v)", err)
}

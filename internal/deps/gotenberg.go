package deps

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CheckGotenberg probes the Gotenberg health endpoint.
func CheckGotenberg(ctx context.Context, baseURL string) Status {
	status := Status{
		Name:        "Gotenberg",
		Command:     baseURL,
		Description: "Document conversion over HTTP",
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		status.Detail = "url not configured"
		return status
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		status.Detail = fmt.Sprintf("unreachable: %v", err)
		return status
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		status.Detail = fmt.Sprintf("health returned %s", resp.Status)
		return status
	}
	status.Available = true
	return status
}

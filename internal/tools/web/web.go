// Package web implements the web_fetch tool: a bounded HTTP GET for
// documentation pages and raw data files.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 512 * 1024
)

// Fetch retrieves one URL over HTTP(S).
type Fetch struct {
	tool.Base
	client *http.Client
}

// NewFetch builds the web_fetch tool.
func NewFetch() *Fetch {
	return &Fetch{
		Base: tool.Base{
			ToolName:        "web_fetch",
			ToolDisplayName: "Fetch URL",
			ToolDescription: "Fetch the content of an http(s) URL. Responses are truncated to a fixed size.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "The http or https URL to fetch."}
				},
				"required": ["url"]
			}`),
		},
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Execute implements the tool.
func (t *Fetch) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	url, _ := params["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return tool.ErrorResult("bad url", fmt.Sprintf("unsupported URL %q: only http and https are allowed", url)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tool.ErrorResult("bad url", fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("User-Agent", "rowboat/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.ErrorResult("fetch failed", fmt.Sprintf("fetch %s: %v", url, err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return tool.ErrorResult("fetch failed", fmt.Sprintf("fetch %s: HTTP %d", url, resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return tool.ErrorResult("fetch failed", fmt.Sprintf("read body of %s: %v", url, err)), nil
	}
	truncated := false
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		truncated = true
	}

	content := string(body)
	if truncated {
		content += fmt.Sprintf("\n... truncated at %d bytes", maxBodyBytes)
	}
	return tool.Result{
		Summary:       fmt.Sprintf("fetched %s (%d bytes)", url, len(body)),
		LLMContent:    content,
		ReturnDisplay: fmt.Sprintf("Fetched %s (%d bytes, %s).", url, len(body), resp.Header.Get("Content-Type")),
	}, nil
}

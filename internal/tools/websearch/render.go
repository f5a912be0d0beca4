package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/net/ssrf"
)

// RenderConfig controls browser_render defaults.
type RenderConfig struct {
	MaxChars       int
	NavTimeout     time.Duration
	AllocatorFlags []chromedp.ExecAllocatorOption
}

// BrowserRenderTool fetches a page through a headless Chromium instance and
// returns its rendered text, for JS-driven pages web_fetch cannot see.
type BrowserRenderTool struct {
	config RenderConfig
}

// NewBrowserRenderTool creates a new browser_render tool with defaults applied.
func NewBrowserRenderTool(config *RenderConfig) *BrowserRenderTool {
	cfg := RenderConfig{MaxChars: 10000, NavTimeout: 20 * time.Second}
	if config != nil {
		if config.MaxChars > 0 {
			cfg.MaxChars = config.MaxChars
		}
		if config.NavTimeout > 0 {
			cfg.NavTimeout = config.NavTimeout
		}
		cfg.AllocatorFlags = config.AllocatorFlags
	}
	return &BrowserRenderTool{config: cfg}
}

// Name returns the tool name for registration with the agent runtime.
func (t *BrowserRenderTool) Name() string {
	return "browser_render"
}

// Description returns the tool description.
func (t *BrowserRenderTool) Description() string {
	return "Render a URL in a headless browser and return its visible text. Use for pages that require JavaScript; prefer web_fetch otherwise."
}

// Schema returns the JSON schema for tool parameters.
func (t *BrowserRenderTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to render (http/https only)",
			},
			"wait_for": map[string]interface{}{
				"type":        "string",
				"description": "Optional CSS selector to wait for before capturing text",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum characters to return (default: 10000)",
				"minimum":     0,
			},
		},
		"required": []string{"url"},
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schemaBytes
}

// Execute navigates to the URL in a headless Chromium tab and returns its
// rendered body text, subject to the same SSRF allowlist as web_fetch.
func (t *BrowserRenderTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	rawURL := readStringParam(raw, "url")
	if rawURL == "" {
		return &agent.ToolResult{Content: "Missing required parameter: url", IsError: true}, nil
	}
	waitFor := readStringParam(raw, "wait_for", "waitFor")
	maxChars := readIntParam(raw, "max_chars", "maxChars")
	limit := t.config.MaxChars
	if maxChars > 0 && (limit == 0 || maxChars < limit) {
		limit = maxChars
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &agent.ToolResult{Content: "URL must be http or https", IsError: true}, nil
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Blocked URL: %v", err), IsError: true}, nil
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:], t.config.AllocatorFlags...)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	navCtx, cancelNav := context.WithTimeout(browserCtx, t.config.NavTimeout)
	defer cancelNav()

	var text string
	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if waitFor != "" {
		actions = append(actions, chromedp.WaitVisible(waitFor, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.Text("body", &text, chromedp.ByQuery))

	if err := chromedp.Run(navCtx, actions...); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Render failed: %v", err), IsError: true}, nil
	}

	text = strings.TrimSpace(text)
	truncated := false
	if limit > 0 && len(text) > limit {
		text = text[:limit] + "..."
		truncated = true
	}

	result := map[string]interface{}{
		"url":     rawURL,
		"content": text,
	}
	if truncated {
		result["truncated"] = true
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format response: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

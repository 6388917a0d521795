package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/taskloop/taskloop/internal/config"
)

const defaultWebResults = 10

// NewWebSearchTool creates the web_search tool for the configured provider.
// Supported: "duckduckgo" (default, no API key), "google", "bing".
func NewWebSearchTool(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultWebResults
	}

	switch cfg.Provider {
	case "", "duckduckgo":
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search",
			ToolDesc:   "Search the web using DuckDuckGo. Returns titles, URLs, and snippets.",
			MaxResults: maxResults,
			Timeout:    cfg.Timeout.Duration(),
		})
	case "google":
		if cfg.GoogleAPIKey == "" || cfg.GoogleCX == "" {
			return nil, fmt.Errorf("google web search requires google_api_key and google_cx")
		}
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleCX,
			Num:            maxResults,
			ToolName:       "web_search",
			ToolDesc:       "Search the web using Google. Returns titles, URLs, and snippets.",
		})
	case "bing":
		if cfg.BingAPIKey == "" {
			return nil, fmt.Errorf("bing web search requires bing_api_key")
		}
		bingCfg := &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults,
			ToolName:   "web_search",
			ToolDesc:   "Search the web using Bing. Returns titles, URLs, and descriptions.",
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			bingCfg.Timeout = d
		} else {
			bingCfg.Timeout = 30 * time.Second
		}
		return bingsearch.NewTool(ctx, bingCfg)
	default:
		return nil, fmt.Errorf("unknown web search provider %q", cfg.Provider)
	}
}

// Setup builds the default registry: workspace file tools, task_complete,
// and web_search.
// When enabled is non-empty, only the named tools are registered.
func Setup(ctx context.Context, cfg config.ToolsConfig) (*Registry, error) {
	registry := NewRegistry()

	wanted := func(name string) bool {
		if len(cfg.Enabled) == 0 {
			return true
		}
		for _, n := range cfg.Enabled {
			if n == name {
				return true
			}
		}
		return false
	}

	if wanted("read_file") {
		if err := registry.Register(ctx, NewReadFileTool()); err != nil {
			return nil, err
		}
	}
	if wanted("write_file") {
		if err := registry.Register(ctx, NewWriteFileTool()); err != nil {
			return nil, err
		}
	}
	if wanted("list_dir") {
		if err := registry.Register(ctx, NewListDirTool()); err != nil {
			return nil, err
		}
	}
	if wanted("task_complete") {
		if err := registry.Register(ctx, NewCompleteTool()); err != nil {
			return nil, err
		}
	}
	if wanted("web_search") {
		web, err := NewWebSearchTool(ctx, cfg.Web)
		if err != nil {
			return nil, fmt.Errorf("setup web_search: %w", err)
		}
		if err := registry.Register(ctx, web); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

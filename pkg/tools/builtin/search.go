package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/tools"
)

// Search queries a SearxNG instance and returns the top results as plain
// text for the model to read.
type Search struct {
	// BaseURL of the SearxNG instance, e.g. "http://localhost:8080".
	BaseURL string
	// MaxResults caps the results returned; zero means 5.
	MaxResults int
	// Client defaults to one with a 10s timeout.
	Client *http.Client
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Search) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "search",
		Description: "Search the web and return the top results with title, URL, and snippet.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"query": {Type: "string", Description: "The search query."},
			},
			Required: []string{"query"},
		}),
	}
}

func (s *Search) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("search: query is required")
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := s.MaxResults
	if limit == 0 {
		limit = 5
	}

	u := strings.TrimSuffix(s.BaseURL, "/") + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search: HTTP %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("search: decode response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "No results found.", nil
	}
	if len(parsed.Results) > limit {
		parsed.Results = parsed.Results[:limit]
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "   %s\n", r.Content)
		}
	}
	return b.String(), nil
}

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

const (
	grepMaxMatches  = 100
	grepMaxFileSize = 1 << 20
)

var grepSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".autarch": true,
}

type grepTool struct{}

// NewGrep returns the grep tool: regexp search across the tree.
func NewGrep() ports.Tool { return &grepTool{} }

func (t *grepTool) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	pattern := stringArg(input, "pattern")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fail("Error: invalid pattern: %v", err), nil
	}

	startPath := stringArg(input, "path")
	if startPath == "" {
		startPath = "."
	}
	resolved, err := tools.ResolvePath(tc, startPath)
	if err != nil {
		return fail("Error: %v", err), nil
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if grepSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > grepMaxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !utf8Valid(data) {
			return nil
		}
		rel := relWithin(tc.Root(), path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d: %s\n", rel, i+1, strings.TrimSpace(line))
				matches++
				if matches >= grepMaxMatches {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return fail("Error: search failed: %v", walkErr), nil
	}
	if matches == 0 {
		return ok("No matches for %q", pattern), nil
	}
	header := fmt.Sprintf("%d match(es)", matches)
	if matches >= grepMaxMatches {
		header += " (truncated)"
	}
	return ok("%s\n%s", header, b.String()), nil
}

func utf8Valid(data []byte) bool {
	// A crude binary filter: NUL bytes mean skip.
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

func (t *grepTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "grep",
		Description: "Search files with a Go regular expression. Returns file:line matches.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"pattern": {Type: "string", Description: "Go regexp to match per line"},
				"path":    {Type: "string", Description: "Relative directory to search, defaults to the root"},
			}),
			Required: []string{"pattern", "reason"},
		},
	}
}

type semanticSearch struct {
	collection *chromem.Collection
}

// NewSemanticSearch returns the semantic_search tool backed by an in-process
// chromem collection. A nil collection makes the tool report that the index
// is unavailable.
func NewSemanticSearch(collection *chromem.Collection) ports.Tool {
	return &semanticSearch{collection: collection}
}

func (t *semanticSearch) Execute(ctx context.Context, input map[string]any, _ *ports.ToolContext) (*ports.ToolResult, error) {
	query := stringArg(input, "query")
	if t.collection == nil {
		return fail("Error: semantic index is not configured for this project"), nil
	}
	limit := intArg(input, "limit", 5)
	if count := t.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return ok("No indexed documents"), nil
	}
	results, err := t.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return fail("Error: semantic search failed: %v", err), nil
	}
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "[%.3f] %s\n%s\n\n", res.Similarity, res.ID, strings.TrimSpace(res.Content))
	}
	if b.Len() == 0 {
		return ok("No matches for %q", query), nil
	}
	return ok("%s", b.String()), nil
}

func (t *semanticSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "semantic_search",
		Description: "Search the project's semantic index for conceptually related code and docs.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"query": {Type: "string", Description: "Natural-language query"},
				"limit": {Type: "integer", Description: "Maximum results, default 5"},
			}),
			Required: []string{"query", "reason"},
		},
	}
}

const webSearchEndpoint = "https://grep.app/api/search"

type webCodeSearch struct {
	client *http.Client
}

// NewWebCodeSearch returns the web_code_search tool querying the public
// grep.app code search API.
func NewWebCodeSearch() ports.Tool {
	return &webCodeSearch{client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *webCodeSearch) Execute(ctx context.Context, input map[string]any, _ *ports.ToolContext) (*ports.ToolResult, error) {
	query := stringArg(input, "query")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		webSearchEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return fail("Error: %v", err), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fail("Error: web code search failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail("Error: web code search returned HTTP %d", resp.StatusCode), nil
	}

	var payload struct {
		Hits struct {
			Hits []struct {
				Repo struct {
					Raw string `json:"raw"`
				} `json:"repo"`
				Path struct {
					Raw string `json:"raw"`
				} `json:"path"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fail("Error: malformed search response: %v", err), nil
	}

	var b strings.Builder
	for i, hit := range payload.Hits.Hits {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", hit.Repo.Raw, hit.Path.Raw)
	}
	if b.Len() == 0 {
		return ok("No public code results for %q", query), nil
	}
	return ok("%s", b.String()), nil
}

func (t *webCodeSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web_code_search",
		Description: "Search public code for usage examples of an API or pattern.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"query": {Type: "string", Description: "Code search query"},
			}),
			Required: []string{"query", "reason"},
		},
	}
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultFetchMaxContent is the default character budget of fetch_url content.
const DefaultFetchMaxContent = 5000

// maxFetchBody 读取响应体的字节上限
const maxFetchBody = 4 << 20

// FetchConfig configures the fetch_url tool.
type FetchConfig struct {
	MaxContentLength int
	Timeout          time.Duration
	UserAgent        string
}

// FetchResult is the payload returned by fetch_url.
type FetchResult struct {
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// FetchTool implements fetch_url.
type FetchTool struct {
	cfg    FetchConfig
	client *http.Client
	logger *zap.Logger
}

// NewFetchTool 创建网页抓取工具。client 为 nil 时使用 http.DefaultClient。
func NewFetchTool(cfg FetchConfig, client *http.Client, logger *zap.Logger) *FetchTool {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultFetchMaxContent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "agentrelay-fetch/1.0"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchTool{cfg: cfg, client: client, logger: logger.With(zap.String("component", "fetch_url"))}
}

// Handle is the LocalHandler for fetch_url.
func (t *FetchTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	raw, _ := args["url"].(string)
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, types.Errorf(types.ErrValidation, "url must be an absolute http(s) URL, got %q", raw)
	}

	includeHTML, _ := args["include_html"].(bool)
	maxLen := t.cfg.MaxContentLength
	if v, ok := args["max_content_length"].(float64); ok && v > 0 {
		maxLen = int(v)
	}
	timeout := t.cfg.Timeout
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if resp.StatusCode >= 400 {
		return nil, types.Errorf(types.ErrToolExecution, "fetch %s: HTTP %d", u, resp.StatusCode)
	}

	result := FetchResult{URL: u.String(), Status: resp.StatusCode}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case includeHTML:
		result.Title, _ = extractText(string(body))
		result.Content = string(body)
	case contentType == "" || strings.Contains(contentType, "html"):
		result.Title, result.Content = extractText(string(body))
	default:
		result.Content = string(body)
	}
	result.Content, result.Truncated = truncateRunes(result.Content, maxLen)

	t.logger.Debug("url fetched",
		zap.String("url", result.URL),
		zap.Int("status", result.Status),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// extractText returns the document title and its visible text with collapsed whitespace.
func extractText(doc string) (string, string) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		title   strings.Builder
		text    strings.Builder
		skip    int
		inTitle bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseSpace(title.String()), collapseSpace(text.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.Title:
				inTitle = tt == html.StartTagToken
			case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				text.WriteByte('\n')
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				if skip > 0 {
					skip--
				}
			case atom.Title:
				inTitle = false
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			data := string(z.Text())
			if inTitle {
				title.WriteString(data)
				continue
			}
			text.WriteString(data)
			text.WriteByte(' ')
		}
	}
}

func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= limit {
		return s, false
	}
	return string(r[:limit]), true
}

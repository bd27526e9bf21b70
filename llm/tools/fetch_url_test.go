package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const samplePage = `<!doctype html>
<html><head><title> Example   Domain </title>
<style>body { color: red }</style>
<script>var secret = "hidden";</script></head>
<body><h1>Example Domain</h1>
<p>This domain is for use in   illustrative examples.</p>
<noscript>enable js</noscript>
</body></html>`

func newPageServer(t *testing.T, contentType, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchTool_ExtractsText(t *testing.T) {
	srv := newPageServer(t, "text/html; charset=utf-8", samplePage, http.StatusOK)
	tool := NewFetchTool(FetchConfig{}, srv.Client(), zap.NewNop())

	out, err := tool.Handle(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	res := out.(FetchResult)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Example Domain", res.Title)
	assert.Contains(t, res.Content, "This domain is for use in illustrative examples.")
	assert.NotContains(t, res.Content, "secret")
	assert.NotContains(t, res.Content, "color")
	assert.NotContains(t, res.Content, "enable js")
	assert.False(t, res.Truncated)
}

func TestFetchTool_IncludeHTMLAndTruncate(t *testing.T) {
	srv := newPageServer(t, "text/html", samplePage, http.StatusOK)
	tool := NewFetchTool(FetchConfig{}, srv.Client(), nil)

	out, err := tool.Handle(context.Background(), map[string]any{
		"url":                srv.URL,
		"include_html":       true,
		"max_content_length": 15.0,
	})
	require.NoError(t, err)
	res := out.(FetchResult)
	assert.Equal(t, "<!doctype html>", res.Content)
	assert.True(t, res.Truncated)
	assert.Equal(t, "Example Domain", res.Title)
}

func TestFetchTool_PlainText(t *testing.T) {
	srv := newPageServer(t, "text/plain", "just <b>text</b>", http.StatusOK)
	tool := NewFetchTool(FetchConfig{}, srv.Client(), nil)

	out, err := tool.Handle(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "just <b>text</b>", out.(FetchResult).Content)
}

func TestFetchTool_HTTPError(t *testing.T) {
	srv := newPageServer(t, "text/html", "missing", http.StatusNotFound)
	tool := NewFetchTool(FetchConfig{}, srv.Client(), nil)

	_, err := tool.Handle(context.Background(), map[string]any{"url": srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchTool_RejectsBadURL(t *testing.T) {
	tool := NewFetchTool(FetchConfig{}, nil, nil)
	for _, u := range []string{"", "ftp://example.com", "/relative", "http://"} {
		_, err := tool.Handle(context.Background(), map[string]any{"url": u})
		require.Error(t, err, u)
		assert.True(t, types.IsErrorCode(err, types.ErrValidation), u)
	}
}

func TestFetchTool_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	tool := NewFetchTool(FetchConfig{Timeout: 50 * time.Millisecond}, srv.Client(), nil)

	_, err := tool.Handle(context.Background(), map[string]any{"url": srv.URL})
	require.Error(t, err)
}

func TestFetchTool_ThroughDispatcher(t *testing.T) {
	srv := newPageServer(t, "text/html", samplePage, http.StatusOK)
	d := newTestDispatcher(t, DispatcherConfig{}, nil)
	d.Handle(FetchURLToolID, NewFetchTool(FetchConfig{}, srv.Client(), nil).Handle, 0)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    FetchURLToolID,
		Arguments: map[string]any{"url": srv.URL, "max_content_length": "10"},
	})
	require.NoError(t, err)
	require.True(t, out.Result.Success)
	res := out.Result.Result.(FetchResult)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, len([]rune(res.Content)), 10)
	assert.True(t, strings.HasPrefix(res.Content, "Example"))
}

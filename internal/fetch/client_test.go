package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Fallback title</title>
			<meta property="og:title" content="Acme beats estimates"/></head>
			<body><p>Strong quarter.</p></body></html>`))
	}))
	defer server.Close()

	article, err := NewClient().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Acme beats estimates", article.Title)
	assert.Contains(t, article.HTML, "Strong quarter.")
}

func TestFetchTitleFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title> Page title </title></head><body>x</body></html>`))
	}))
	defer server.Close()

	article, err := NewClient().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Page title", article.Title)
}

func TestFetchRejectsBadURLs(t *testing.T) {
	c := NewClient()
	ctx := context.Background()

	for _, u := range []string{"", "ftp://example.com/a", "not a url", "file:///etc/passwd"} {
		_, err := c.Fetch(ctx, u)
		assert.Error(t, err, "url %q must be rejected", u)
	}
}

func TestFetchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient().Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

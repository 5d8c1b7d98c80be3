package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchBytesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[]}`), 0o644))

	f := NewFetcher(0)
	data, status, err := f.FetchBytes(context.Background(), KindFile, path, Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, `{"rules":[]}`, string(data))
}

func TestFetchBytesHTTPSSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"rules":[]}`))
	}))
	defer srv.Close()

	f := NewFetcher(0)
	data, status, err := f.FetchBytes(context.Background(), KindHTTPS, srv.URL, Credentials{BearerToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"rules":[]}`, string(data))
}

func TestFetchBytesHTTPSNotFoundReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(0)
	_, status, err := f.FetchBytes(context.Background(), KindHTTPS, srv.URL, Credentials{})
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDecodeManifestGuessesFormatFromExtension(t *testing.T) {
	m, err := DecodeManifest([]byte("sources: []\ninclude: []\n"), "", "https://example.com/manifest.yaml")
	require.NoError(t, err)
	assert.Empty(t, m.Sources)
}

func TestDecodeManifestJSON(t *testing.T) {
	doc := []byte(`{"sources":[{"identifier":"ads","kind":"https","format":"json","location":"https://x/ads.json","priority":10,"enabled":true}],"include":["https://x/sub.json"]}`)
	m, err := DecodeManifest(doc, FormatJSON, "manifest.json")
	require.NoError(t, err)
	require.Len(t, m.Sources, 1)
	assert.Equal(t, "ads", m.Sources[0].Identifier)
	assert.Equal(t, KindHTTPS, m.Sources[0].Kind)
	require.Len(t, m.Include, 1)
}

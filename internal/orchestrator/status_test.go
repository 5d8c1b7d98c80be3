package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/manifest"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
)

func TestRunAllNowFetchesEveryEnabledSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rules":[{"domain":"a.example.com","action":"block"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/manifest/default.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sources":[{"identifier":"one","kind":"https","format":"json","location":"%s/rules.json","priority":1,"enabled":true}]}`, srv.URL)
	})

	store := openTestStore(t)
	o := New(Config{
		Store:               store,
		RuleCache:           rulecache.New(0),
		ResponseCache:       respcache.New(0),
		Fetcher:             manifest.NewFetcher(0),
		ManifestURLTemplate: srv.URL + "/manifest/{identifier}.json",
		ManifestKind:        manifest.KindHTTPS,
	})

	ctx := context.Background()
	require.NoError(t, o.reloadManifest(ctx))
	require.NoError(t, o.RunAllNow(ctx))

	_, action, found := store.RuleFor("a.example.com")
	require.True(t, found)
	assert.Equal(t, "block", action.String())

	statuses := o.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "one", statuses[0].Identifier)
	assert.Equal(t, 1, statuses[0].RuleCount)
	assert.Equal(t, 1, statuses[0].ConsecutiveSuccesses)
}

func TestStatusReportsLastError(t *testing.T) {
	o := New(Config{})
	now := time.Now()
	failing := &sourceState{}
	failing.recordFailure(assert.AnError, now, time.Minute, time.Hour)

	o.mu.Lock()
	o.sources["bad"] = failing
	o.mu.Unlock()

	statuses := o.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "bad", statuses[0].Identifier)
	assert.Equal(t, 1, statuses[0].ConsecutiveFailures)
	assert.NotEmpty(t, statuses[0].LastError)
}

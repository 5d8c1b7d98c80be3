package adminapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/flowengine"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

func openTestStore(t *testing.T) *rulestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := rulestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDispatcherClearCache(t *testing.T) {
	rc := rulecache.New(10)
	rc.Set("ads.example.com", rulecache.Block, 1)
	respC := respcache.New(10)

	d := NewDispatcher(Dependencies{RuleCache: rc, ResponseCache: respC})
	resp := d.Handle(context.Background(), CommandRequest{CommandID: "1", Type: CommandClearCache})

	assert.True(t, resp.Success)
	_, found := rc.Get("ads.example.com")
	assert.False(t, found, "clearCache should empty the rule cache")
}

func TestDispatcherGetStatus(t *testing.T) {
	store := openTestStore(t)
	d := NewDispatcher(Dependencies{Store: store, StartTime: time.Now().Add(-time.Minute)})

	resp := d.Handle(context.Background(), CommandRequest{CommandID: "2", Type: CommandGetStatus})
	require.True(t, resp.Success)

	status, ok := resp.Data.(GetStatusResponse)
	require.True(t, ok)
	assert.Equal(t, 0, status.RuleCount)
	assert.Positive(t, status.UptimeSeconds)
}

func TestDispatcherGetStatusReportsEngineQueryStats(t *testing.T) {
	engine := flowengine.New(flowengine.Config{})
	d := NewDispatcher(Dependencies{Engine: engine, StartTime: time.Now()})

	resp := d.Handle(context.Background(), CommandRequest{CommandID: "2b", Type: CommandGetStatus})
	require.True(t, resp.Success)

	status, ok := resp.Data.(GetStatusResponse)
	require.True(t, ok)
	assert.Equal(t, QueryStats{}, status.Queries, "no queries handled yet, counters should be zero")
}

func TestDispatcherReloadConfigurationWithNoHookFails(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	resp := d.Handle(context.Background(), CommandRequest{CommandID: "3", Type: CommandReloadConfiguration})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestDispatcherReloadConfigurationCallsHook(t *testing.T) {
	called := false
	d := NewDispatcher(Dependencies{ReloadConfig: func() error { called = true; return nil }})
	resp := d.Handle(context.Background(), CommandRequest{CommandID: "4", Type: CommandReloadConfiguration})
	assert.True(t, resp.Success)
	assert.True(t, called)
}

func TestDispatcherUnknownCommand(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	resp := d.Handle(context.Background(), CommandRequest{CommandID: "5", Type: "bogus"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "bogus")
}

func TestDispatcherSyncRulesWithNoOrchestratorFails(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	resp := d.Handle(context.Background(), CommandRequest{CommandID: "6", Type: CommandSyncRules})
	assert.False(t, resp.Success)
}

package adminapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineServerDispatchesCommand(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "hfctl.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &LineServer{Dispatcher: NewDispatcher(Dependencies{})}
	go srv.ListenAndServe(ctx, sockPath)

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	req := CommandRequest{CommandID: "line-1", Type: CommandClearCache, Timestamp: time.Now()}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(payload, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "line-1", resp.CommandID)
}

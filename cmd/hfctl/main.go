// Command hfctl sends one administrative command to a running
// hydraflow process over its Unix command socket (§6) and prints the
// response. It plays the same role for the admin command channel that
// cmd/dnsquery plays for the DNS wire protocol: a small flag-driven
// client for poking a running server by hand.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/hydraflow/internal/adminapi"
)

var commandAliases = map[string]string{
	"sync-rules":    adminapi.CommandSyncRules,
	"clear-cache":   adminapi.CommandClearCache,
	"status":        adminapi.CommandGetStatus,
	"update-rules":  adminapi.CommandUpdateRules,
	"reload-config": adminapi.CommandReloadConfiguration,
}

func main() {
	var (
		sockPath = flag.String("socket", "hydraflow.sock", "Path to the admin command socket")
		timeout  = flag.Duration("timeout", 5*time.Second, "Command timeout")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: hfctl [-socket path] [-timeout d] <%s>\n", usageList())
		os.Exit(2)
	}

	cmdType, ok := commandAliases[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "hfctl: unknown command %q (want one of %s)\n", flag.Arg(0), usageList())
		os.Exit(2)
	}

	resp, err := sendCommand(*sockPath, cmdType, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hfctl: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hfctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if !resp.Success {
		os.Exit(1)
	}
}

func usageList() string {
	return "sync-rules|clear-cache|status|update-rules|reload-config"
}

func sendCommand(sockPath, cmdType string, timeout time.Duration) (adminapi.CommandResponse, error) {
	conn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return adminapi.CommandResponse{}, fmt.Errorf("dial %s: %w", sockPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := adminapi.CommandRequest{
		CommandID: uuid.New().String(),
		Type:      cmdType,
		Timestamp: time.Now(),
		Source:    "hfctl",
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return adminapi.CommandResponse{}, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return adminapi.CommandResponse{}, fmt.Errorf("write command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return adminapi.CommandResponse{}, fmt.Errorf("read response: %w", err)
		}
		return adminapi.CommandResponse{}, fmt.Errorf("read response: connection closed")
	}

	var resp adminapi.CommandResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return adminapi.CommandResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

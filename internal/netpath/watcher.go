// Package netpath detects network-path changes — an interface coming up
// or down, or gaining/losing an address, such as a VPN connecting or a
// Wi-Fi/Ethernet switch — by polling the host's interface list.
//
// This has no teacher analogue; the teacher never ran on a roaming
// client. It's grounded in two things the teacher and pack do show: the
// `shirou/gopsutil/v3` sampling pattern from
// internal/api/handlers/health.go (there used for cpu/mem; generalized
// here to net.Interfaces), and the ticker/stop/done poller shape from
// orchestrator.Orchestrator.Start/loop/Stop, reused so every poller in
// this codebase follows the same idiom.
package netpath

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gnet "github.com/shirou/gopsutil/v3/net"
)

// OnChangeFunc is invoked when the network path is observed to change.
// Typical use is flowengine.Engine.EnterTransition followed by
// ExitTransition, which drops sticky upstream connections
// (upstreampool.Pool.CloseAll under the hood) and replays anything
// queued during the flip once the engine settles back into Running.
type OnChangeFunc func()

// interfaceLister is swappable in tests so a watcher's change detection
// can be exercised without touching the real host's interfaces.
type interfaceLister func() ([]gnet.InterfaceStat, error)

// Watcher polls the host's network interfaces on Interval and calls
// OnChange whenever the observed set of interface names and addresses
// changes.
type Watcher struct {
	Logger   *slog.Logger
	Interval time.Duration
	OnChange OnChangeFunc

	lister interfaceLister

	mu          sync.Mutex
	fingerprint string

	stop chan struct{}
	done chan struct{}
}

// New constructs a Watcher. A non-positive interval defaults to 15s.
func New(interval time.Duration, onChange OnChangeFunc) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watcher{
		Interval: interval,
		OnChange: onChange,
		lister:   gnet.Interfaces,
	}
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Start records the current network fingerprint and begins polling
// until ctx is cancelled or Stop is called. The initial fingerprint is
// never reported as a change.
func (w *Watcher) Start(ctx context.Context) error {
	fp, err := w.currentFingerprint()
	if err != nil {
		w.logger().Warn("netpath: initial interface enumeration failed", "error", err)
	} else {
		w.fingerprint = fp
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// Stop halts polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
}

func (w *Watcher) poll() {
	fp, err := w.currentFingerprint()
	if err != nil {
		w.logger().Warn("netpath: interface enumeration failed", "error", err)
		return
	}

	w.mu.Lock()
	changed := fp != w.fingerprint
	w.fingerprint = fp
	w.mu.Unlock()

	if changed {
		w.logger().Info("netpath: network path changed")
		if w.OnChange != nil {
			w.OnChange()
		}
	}
}

func (w *Watcher) currentFingerprint() (string, error) {
	ifaces, err := w.lister()
	if err != nil {
		return "", err
	}
	return fingerprint(ifaces), nil
}

// fingerprint reduces an interface list to a deterministic string key
// so two enumerations can be compared for equality regardless of the
// order the OS reports them in.
func fingerprint(ifaces []gnet.InterfaceStat) string {
	parts := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs := make([]string, 0, len(iface.Addrs))
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
		sort.Strings(addrs)
		parts = append(parts, iface.Name+"="+strings.Join(addrs, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

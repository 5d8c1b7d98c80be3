package netpath

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gnet "github.com/shirou/gopsutil/v3/net"
)

func stubLister(stats ...gnet.InterfaceStat) interfaceLister {
	return func() ([]gnet.InterfaceStat, error) {
		return stats, nil
	}
}

func TestWatcherDetectsAddressChange(t *testing.T) {
	var calls int32
	w := New(10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	eth0 := gnet.InterfaceStat{Name: "eth0", Addrs: []gnet.InterfaceAddr{{Addr: "10.0.0.5/24"}}}
	w.lister = stubLister(eth0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// No change yet: same interface list polled repeatedly.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// VPN interface appears.
	tun0 := gnet.InterfaceStat{Name: "tun0", Addrs: []gnet.InterfaceAddr{{Addr: "10.8.0.2/24"}}}
	w.lister = stubLister(eth0, tun0)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresInitialFingerprint(t *testing.T) {
	var calls int32
	w := New(10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	w.lister = stubLister(gnet.InterfaceStat{Name: "eth0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "the fingerprint recorded at Start should not itself count as a change")
}

func TestWatcherSurvivesListerError(t *testing.T) {
	var calls int32
	w := New(10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	w.lister = func() ([]gnet.InterfaceStat, error) {
		return nil, assert.AnError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := []gnet.InterfaceStat{
		{Name: "eth0", Addrs: []gnet.InterfaceAddr{{Addr: "10.0.0.5/24"}}},
		{Name: "tun0", Addrs: []gnet.InterfaceAddr{{Addr: "10.8.0.2/24"}}},
	}
	b := []gnet.InterfaceStat{
		{Name: "tun0", Addrs: []gnet.InterfaceAddr{{Addr: "10.8.0.2/24"}}},
		{Name: "eth0", Addrs: []gnet.InterfaceAddr{{Addr: "10.0.0.5/24"}}},
	}
	assert.Equal(t, fingerprint(a), fingerprint(b))
}

func TestStopIsSafeBeforeStart(t *testing.T) {
	w := New(time.Second, nil)
	assert.NotPanics(t, func() { w.Stop() })
}

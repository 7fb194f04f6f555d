package broker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/auth"
	"github.com/hanqi-iot/irrigation-server/internal/config"
)

func newTestBroker() *Broker {
	return New(config.MQTTConfig{OfflineAfter: 90 * time.Second}, nil, nil, nil, zap.NewNop())
}

func TestTakeTransportConsumesEntry(t *testing.T) {
	b := newTestBroker()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	b.p.mu.Lock()
	b.p.transports[c1] = pendingConn{transport: auth.TransportPSK, acceptedAt: time.Now()}
	b.p.mu.Unlock()

	assert.Equal(t, auth.TransportPSK, b.p.takeTransport(c1))
	// 取走即删，再取退回明文缺省
	assert.Equal(t, auth.TransportPlain, b.p.takeTransport(c1))
	assert.Equal(t, auth.TransportPlain, b.p.takeTransport(c2))
}

func TestSweepExpiresPendingConnections(t *testing.T) {
	b := newTestBroker()
	stale, fresh := net.Pipe()
	defer stale.Close()
	defer fresh.Close()

	// stale: accept后一直没发CONNECT的连接，超窗必须被清走
	now := time.Now()
	b.p.mu.Lock()
	b.p.transports[stale] = pendingConn{transport: auth.TransportPlain, acceptedAt: now.Add(-5 * time.Minute)}
	b.p.transports[fresh] = pendingConn{transport: auth.TransportPSK, acceptedAt: now}
	b.p.mu.Unlock()

	b.p.sweepOffline(now)

	b.p.mu.RLock()
	defer b.p.mu.RUnlock()
	_, staleKept := b.p.transports[stale]
	_, freshKept := b.p.transports[fresh]
	assert.False(t, staleKept)
	assert.True(t, freshKept)
}

func TestSweepDropsOfflineClientTransports(t *testing.T) {
	b := newTestBroker()
	now := time.Now()
	b.p.registry.Touch("GW-1", now.Add(-5*time.Minute))
	b.p.mu.Lock()
	b.p.clientTransports["GW-1"] = auth.TransportPSK
	b.p.mu.Unlock()

	b.p.sweepOffline(now)

	assert.Equal(t, auth.TransportPlain, b.p.transportOfClient("GW-1"))
}

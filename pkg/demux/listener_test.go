package demux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/voicebridge/pkg/rtpio"
)

func TestListener_DropsSelfTestSentinelFromLoopback(t *testing.T) {
	registry := NewRegistry(testConfig(), nil, nil, nil)
	l, err := NewListener("127.0.0.1:0", registry, nil)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	conn, err := net.DialUDP("udp", nil, l.Conn().LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("TEST-UDP-SELF-PROBE"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	// No session exists, so the only observable effect is that nothing
	// panics and no session gets created from the sentinel.
	require.Equal(t, 0, registry.Count())
}

func TestListener_RoutesPacketToRegisteredSession(t *testing.T) {
	registry := NewRegistry(testConfig(), nil, nil, nil)
	l, err := NewListener("127.0.0.1:0", registry, nil)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()

	peer := clientConn.LocalAddr().(*net.UDPAddr)
	sess, _ := registry.Register("call-1", peer, 42)

	packet := rtpio.BuildPacket(8, 1, 0, 99, make([]byte, 160))
	data, err := packet.Marshal()
	require.NoError(t, err)

	_, err = clientConn.WriteToUDP(data, l.Conn().LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, latched := sess.InboundMeta()
		return latched
	}, time.Second, 5*time.Millisecond)

	pt, ssrc, _ := sess.InboundMeta()
	require.EqualValues(t, 8, pt)
	require.EqualValues(t, 99, ssrc)
}

func TestListener_LazilyCreatesSessionForUnregisteredPeer(t *testing.T) {
	registry := NewRegistry(testConfig(), nil, nil, nil)
	l, err := NewListener("127.0.0.1:0", registry, nil)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()

	packet := rtpio.BuildPacket(8, 1, 0, 99, make([]byte, 160))
	data, err := packet.Marshal()
	require.NoError(t, err)
	_, err = clientConn.WriteToUDP(data, l.Conn().LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return registry.Count() == 1
	}, time.Second, 5*time.Millisecond)

	peer := clientConn.LocalAddr().(*net.UDPAddr)
	sess, ok := registry.ByPeer(peer)
	require.True(t, ok)
	pt, ssrc, latched := sess.InboundMeta()
	require.True(t, latched)
	require.EqualValues(t, 8, pt)
	require.EqualValues(t, 99, ssrc)
}

// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"

	"github.com/voxbridgeai/pkg/audio/codec"
	"github.com/voxbridgeai/pkg/commons"
)

type ingressCollector struct {
	mu   sync.Mutex
	pcm  []byte
	pkts int
}

func (c *ingressCollector) push(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pcm = append(c.pcm, pcm...)
	c.pkts++
}

func (c *ingressCollector) packets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pkts
}

func startTestSession(t *testing.T, ingress IngressFunc) (*Session, *net.UDPConn) {
	t.Helper()
	session, err := NewSession(SessionConfig{
		CallID:    "call-rtp-test",
		LocalPort: 0, // ephemeral
		Codec:     codec.PCMU,
		Ingress:   ingress,
	}, commons.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		session.Close()
	})

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: session.LocalPort()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return session, client
}

func ulawPacketPCM(seq uint16, ts uint32, ssrc uint32, pcm []byte) []byte {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: g711.EncodeUlaw(pcm),
	}
	raw, _ := pkt.Marshal()
	return raw
}

func ulawPacket(seq uint16, ts uint32, ssrc uint32) []byte {
	return ulawPacketPCM(seq, ts, ssrc, make([]byte, 320)) // 20 ms of silence
}

func TestSessionIngressDecodes(t *testing.T) {
	collector := &ingressCollector{}
	session, client := startTestSession(t, collector.push)

	for seq := uint16(0); seq < 5; seq++ {
		_, err := client.Write(ulawPacket(seq, uint32(seq)*160, 0xAA))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return collector.packets() == 5 },
		2*time.Second, 10*time.Millisecond)

	collector.mu.Lock()
	assert.Equal(t, 5*320, len(collector.pcm), "160 ulaw bytes decode to 320 pcm bytes per packet")
	collector.mu.Unlock()

	snaps, malformed, _ := session.Stats()
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(5), snaps[0].Delivered)
	assert.Zero(t, malformed)
}

func TestSessionRejectsGarbage(t *testing.T) {
	collector := &ingressCollector{}
	session, client := startTestSession(t, collector.push)

	// Underflow, bad version, and a truncated header.
	_, err := client.Write([]byte{0x80, 0x00, 0x01})
	require.NoError(t, err)
	bad := ulawPacket(0, 0, 1)
	bad[0] = 0x40 // version 1
	_, err = client.Write(bad)
	require.NoError(t, err)

	// A valid packet still gets through afterwards.
	_, err = client.Write(ulawPacket(1, 160, 0xBB))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return collector.packets() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, malformed, _ := session.Stats()
	assert.Equal(t, uint64(2), malformed)
}

func TestSessionIgnoresForeignPayloadTypes(t *testing.T) {
	collector := &ingressCollector{}
	session, client := startTestSession(t, collector.push)

	dtmf := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 101, SequenceNumber: 1, SSRC: 7},
		Payload: []byte{0x01, 0x0A, 0x00, 0xA0},
	}
	raw, _ := dtmf.Marshal()
	_, err := client.Write(raw)
	require.NoError(t, err)
	_, err = client.Write(ulawPacket(2, 320, 7))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return collector.packets() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, _, rejected := session.Stats()
	assert.Equal(t, uint64(1), rejected)
}

func TestSessionEgressPacing(t *testing.T) {
	collector := &ingressCollector{}
	session, client := startTestSession(t, collector.push)

	// Latch the remote address with one inbound packet.
	_, err := client.Write(ulawPacket(0, 0, 0xCC))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return collector.packets() == 1 },
		2*time.Second, 10*time.Millisecond)

	// Queue 100 ms of agent audio.
	session.EnqueuePCM(make([]byte, 5*320))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	var pkts []rtp.Packet
	for len(pkts) < 5 {
		n, err := client.Read(buf)
		require.NoError(t, err)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		pkts = append(pkts, pkt)
	}

	assert.Equal(t, session.SSRC(), pkts[0].SSRC)
	assert.True(t, pkts[0].Marker, "first packet of a talk spurt carries the marker")
	for i, pkt := range pkts {
		assert.Equal(t, uint16(i), pkt.SequenceNumber, "sequence starts at 0 and increments")
		assert.Equal(t, uint8(0), pkt.PayloadType)
		assert.Len(t, pkt.Payload, 160)
		if i > 0 {
			assert.False(t, pkt.Marker)
			assert.Equal(t, uint32(160), pkt.Timestamp-pkts[i-1].Timestamp, "20 ms stride at the 8 kHz clock")
		}
	}
}

func TestSessionClearPlayback(t *testing.T) {
	collector := &ingressCollector{}
	session, _ := startTestSession(t, collector.push)

	session.EnqueuePCM(make([]byte, 10*320))
	assert.Positive(t, session.PendingEgress())
	session.ClearPlayback()
	assert.Zero(t, session.PendingEgress())
}

func TestDeriveSSRCIsStable(t *testing.T) {
	assert.Equal(t, deriveSSRC("call-1"), deriveSSRC("call-1"))
	assert.NotEqual(t, deriveSSRC("call-1"), deriveSSRC("call-2"))
}

func TestEngineBindsLearnedIngressSSRC(t *testing.T) {
	logger := commons.NewNopLogger()
	pool, err := NewPortPool(30200, 30300, logger)
	require.NoError(t, err)
	correlator := NewCorrelationManager()
	engine := NewEngine(pool, correlator, logger)

	collector := &ingressCollector{}
	session, err := engine.StartSession("call-ssrc", codec.PCMU, nil, collector.push, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.StopSession("call-ssrc") })

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: session.LocalPort()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	const learned = uint32(0xDEADBEEF)
	_, ok := correlator.CallBySSRC(learned)
	require.False(t, ok)

	_, err = client.Write(ulawPacket(0, 0, learned))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		callID, ok := correlator.CallBySSRC(learned)
		return ok && callID == "call-ssrc"
	}, 2*time.Second, 10*time.Millisecond, "first packet of an unknown ssrc binds it to the call")

	// Further packets on the same ssrc leave the binding untouched.
	_, err = client.Write(ulawPacket(1, 160, learned))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return collector.packets() == 2 },
		2*time.Second, 10*time.Millisecond)
	callID, ok := correlator.CallBySSRC(learned)
	require.True(t, ok)
	assert.Equal(t, "call-ssrc", callID)
}

func TestEngineLifecycle(t *testing.T) {
	logger := commons.NewNopLogger()
	pool, err := NewPortPool(30000, 30100, logger)
	require.NoError(t, err)
	correlator := NewCorrelationManager()
	engine := NewEngine(pool, correlator, logger)

	session, err := engine.StartSession("call-e1", codec.PCMU, nil, func([]byte) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.InUse())
	assert.Equal(t, 1, engine.ActiveSessions())

	callID, ok := correlator.CallBySSRC(session.SSRC())
	require.True(t, ok)
	assert.Equal(t, "call-e1", callID)

	_, err = engine.StartSession("call-e1", codec.PCMU, nil, nil, nil)
	assert.Error(t, err, "duplicate session must be rejected")

	done := make(chan struct{})
	go func() {
		engine.StopSession("call-e1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("port not released within 1s of teardown")
	}
	assert.Zero(t, pool.InUse())
	assert.Zero(t, engine.ActiveSessions())
	_, ok = correlator.Record("call-e1")
	assert.False(t, ok)
}

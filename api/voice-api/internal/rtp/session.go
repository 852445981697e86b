// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_rtp

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/voxbridgeai/pkg/audio/codec"
	"github.com/voxbridgeai/pkg/commons"
)

var (
	ErrMalformedPacket     = errors.New("rtp: malformed packet")
	ErrStreamLimitExceeded = errors.New("rtp: stream limit exceeded")
)

// maxIngressStreams bounds learned SSRCs per session; a misbehaving
// peer cycling SSRCs must not grow state without limit.
const maxIngressStreams = 8

const frameDuration = 20 * time.Millisecond

// IngressFunc receives decoded caller PCM from the read loop.
type IngressFunc func(pcm []byte)

// EgressTapFunc observes PCM as it is sent, used to feed the echo
// canceller's reference.
type EgressTapFunc func(pcm []byte)

type SessionConfig struct {
	CallID    string
	LocalPort int
	// Remote is optional; with symmetric RTP the peer address is
	// latched from the first received packet.
	Remote  *net.UDPAddr
	Codec   codec.Codec
	Ingress IngressFunc
	Tap     EgressTapFunc
	// OnNewStream fires once per learned ingress SSRC, on the read
	// goroutine. The engine uses it to bind the SSRC to the call.
	OnNewStream func(ssrc uint32)
}

// Session is one call's RTP endpoint: a UDP socket, a decoding read
// loop and a 20 ms paced egress.
type Session struct {
	logger commons.Logger
	cfg    SessionConfig
	conn   *net.UDPConn

	decoder codec.Decoder
	encoder codec.Encoder

	mu        sync.Mutex
	remote    *net.UDPAddr
	streams   map[uint32]*StreamStats
	malformed uint64
	rejected  uint64 // unsupported payload types
	overflow  bool   // stream limit hit, logged once

	egressMu  sync.Mutex
	egressBuf []byte
	idle      bool // next packet starts a talk spurt

	seq       uint16
	timestamp uint32
	ssrc      uint32

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSession(cfg SessionConfig, logger commons.Logger) (*Session, error) {
	dec, err := codec.NewDecoder(cfg.Codec)
	if err != nil {
		return nil, err
	}
	enc, err := codec.NewEncoder(cfg.Codec)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.LocalPort})
	if err != nil {
		return nil, fmt.Errorf("rtp: bind port %d: %w", cfg.LocalPort, err)
	}
	return &Session{
		logger:  logger,
		cfg:     cfg,
		conn:    conn,
		decoder: dec,
		encoder: enc,
		remote:  cfg.Remote,
		streams: make(map[uint32]*StreamStats),
		idle:    true,
		ssrc:    deriveSSRC(cfg.CallID),
		closed:  make(chan struct{}),
	}, nil
}

// deriveSSRC hashes the call ID so the egress SSRC is stable across
// restarts of the same call leg.
func deriveSSRC(callID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return h.Sum32()
}

func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *Session) SSRC() uint32 { return s.ssrc }

// Run starts the read loop and the egress pacer and blocks until the
// context ends or the socket closes.
func (s *Session) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.paceEgress()
	}()
	wg.Wait()
}

func (s *Session) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warnw("rtp read failed", "call_id", s.cfg.CallID, "error", err)
			}
			return
		}
		s.handlePacket(buf[:n], addr)
	}
}

func (s *Session) handlePacket(data []byte, addr *net.UDPAddr) {
	if len(data) < 12 {
		s.countMalformed("underflow", len(data))
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		s.countMalformed("unmarshal", len(data))
		return
	}
	if pkt.Version != 2 {
		s.countMalformed("version", int(pkt.Version))
		return
	}
	if pkt.PayloadType != s.cfg.Codec.PayloadType() {
		// Comfort noise and telephone-event streams are expected and
		// skipped quietly; anything else is counted.
		if pkt.PayloadType != 13 {
			s.mu.Lock()
			s.rejected++
			s.mu.Unlock()
		}
		return
	}
	if len(pkt.Payload) == 0 {
		s.countMalformed("empty payload", 0)
		return
	}

	stats, ok := s.streamFor(pkt.SSRC)
	if !ok {
		return
	}
	if !stats.Record(pkt.SequenceNumber, pkt.Timestamp, pkt.Marker, len(pkt.Payload)) {
		return
	}

	// Symmetric RTP: latch the peer from the first valid packet.
	s.mu.Lock()
	if s.remote == nil {
		s.remote = addr
		s.logger.Infow("latched rtp peer", "call_id", s.cfg.CallID, "remote", addr.String())
	}
	s.mu.Unlock()

	pcm, err := s.decoder.Decode(pkt.Payload)
	if err != nil {
		s.countMalformed("decode", len(pkt.Payload))
		return
	}
	if s.cfg.Ingress != nil {
		s.cfg.Ingress(pcm)
	}
}

func (s *Session) streamFor(ssrc uint32) (*StreamStats, bool) {
	s.mu.Lock()
	if stats, ok := s.streams[ssrc]; ok {
		s.mu.Unlock()
		return stats, true
	}
	if len(s.streams) >= maxIngressStreams {
		if !s.overflow {
			s.overflow = true
			s.logger.Errorw("ingress stream limit exceeded, dropping new ssrc",
				"call_id", s.cfg.CallID, "ssrc", ssrc, "error", ErrStreamLimitExceeded)
		}
		s.mu.Unlock()
		return nil, false
	}
	stats := NewStreamStats(ssrc)
	s.streams[ssrc] = stats
	s.mu.Unlock()

	if s.cfg.OnNewStream != nil {
		s.cfg.OnNewStream(ssrc)
	}
	return stats, true
}

func (s *Session) countMalformed(kind string, size int) {
	s.mu.Lock()
	s.malformed++
	count := s.malformed
	s.mu.Unlock()
	if count%100 == 1 {
		s.logger.Warnw("malformed rtp packet",
			"call_id", s.cfg.CallID, "kind", kind, "size", size, "total", count, "error", ErrMalformedPacket)
	}
}

// EnqueuePCM queues agent audio (s16le at the codec's audio rate) for
// paced transmission.
func (s *Session) EnqueuePCM(pcm []byte) {
	s.egressMu.Lock()
	defer s.egressMu.Unlock()
	s.egressBuf = append(s.egressBuf, pcm...)
}

// ClearPlayback drops queued egress audio, used on barge-in.
func (s *Session) ClearPlayback() {
	s.egressMu.Lock()
	defer s.egressMu.Unlock()
	s.egressBuf = s.egressBuf[:0]
}

// PendingEgress reports queued egress bytes.
func (s *Session) PendingEgress() int {
	s.egressMu.Lock()
	defer s.egressMu.Unlock()
	return len(s.egressBuf)
}

// paceEgress ships one frame every 20 ms. The RTP timestamp advances
// by the codec's RTP clock stride even when nothing is sent, so
// receivers see silence suppression rather than a slewed clock.
func (s *Session) paceEgress() {
	frameBytes := s.cfg.Codec.PCMConfig().FrameBytes(int(frameDuration / time.Millisecond))
	stride := uint32(s.cfg.Codec.RTPClockRate() / 50)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}
		s.timestamp += stride

		s.egressMu.Lock()
		if len(s.egressBuf) == 0 {
			s.idle = true
			s.egressMu.Unlock()
			continue
		}
		var framePCM []byte
		if len(s.egressBuf) >= frameBytes {
			framePCM = s.egressBuf[:frameBytes:frameBytes]
			s.egressBuf = s.egressBuf[frameBytes:]
		} else {
			// Final partial frame of a playback: pad to a full frame.
			framePCM = make([]byte, frameBytes)
			copy(framePCM, s.egressBuf)
			s.egressBuf = s.egressBuf[:0]
		}
		marker := s.idle
		s.idle = false
		s.egressMu.Unlock()

		s.mu.Lock()
		remote := s.remote
		s.mu.Unlock()
		if remote == nil {
			continue
		}

		payload, err := s.encoder.Encode(framePCM)
		if err != nil {
			s.logger.Errorw("egress encode failed", "call_id", s.cfg.CallID, "error", err)
			continue
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    s.cfg.Codec.PayloadType(),
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			s.logger.Errorw("egress marshal failed", "call_id", s.cfg.CallID, "error", err)
			continue
		}
		if _, err := s.conn.WriteToUDP(raw, remote); err != nil {
			s.logger.Warnw("egress write failed", "call_id", s.cfg.CallID, "error", err)
			continue
		}
		s.seq++
		if s.cfg.Tap != nil {
			s.cfg.Tap(framePCM)
		}
	}
}

// Stats snapshots all learned ingress streams plus session counters.
func (s *Session) Stats() ([]StatsSnapshot, uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]StatsSnapshot, 0, len(s.streams))
	for _, st := range s.streams {
		snaps = append(snaps, st.Snapshot())
	}
	return snaps, s.malformed, s.rejected
}

// Close shuts the socket; Run unblocks shortly after.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

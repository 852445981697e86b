// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package codec

import (
	"fmt"

	"github.com/zaf/g711"
)

// ulawCodec wraps zaf/g711 mu-law. One payload byte expands to one
// s16le sample, so a 20 ms narrowband frame is 160 bytes on the wire.
type ulawCodec struct{}

func (u *ulawCodec) Codec() Codec { return PCMU }

func (u *ulawCodec) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty ulaw payload", ErrMalformedPayload)
	}
	return g711.DecodeUlaw(payload), nil
}

func (u *ulawCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm length %d", ErrMalformedPayload, len(pcm))
	}
	return g711.EncodeUlaw(pcm), nil
}

type alawCodec struct{}

func (a *alawCodec) Codec() Codec { return PCMA }

func (a *alawCodec) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty alaw payload", ErrMalformedPayload)
	}
	return g711.DecodeAlaw(payload), nil
}

func (a *alawCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm length %d", ErrMalformedPayload, len(pcm))
	}
	return g711.EncodeAlaw(pcm), nil
}

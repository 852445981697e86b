// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package codec

import (
	"fmt"

	"github.com/voxbridgeai/pkg/utils"
)

// g722Codec implements ITU-T G.722 at 64 kbit/s: a QMF splits 16 kHz
// audio into two 8 kHz sub-bands, each coded with a backward-adaptive
// ADPCM quantizer (6 bits low band, 2 bits high band per output byte).
// Encoder and decoder keep independent predictor state, so instances
// are per-direction and not concurrency safe.
type g722Codec struct {
	encBands [2]g722Band
	decBands [2]g722Band
	encQMF   [24]int
	decQMF   [24]int
}

type g722Band struct {
	s   int
	sp  int
	sz  int
	r   [3]int
	a   [3]int
	ap  [3]int
	p   [3]int
	d   [7]int
	b   [7]int
	bp  [7]int
	sg  [7]int
	nb  int
	det int
}

func newG722Codec() *g722Codec {
	c := &g722Codec{}
	c.encBands[0].det = 32
	c.encBands[1].det = 8
	c.decBands[0].det = 32
	c.decBands[1].det = 8
	return c
}

func (c *g722Codec) Codec() Codec { return G722 }

var (
	g722QMFCoeffs = [12]int{3, -11, 12, 32, -210, 951, 3876, -805, 362, -156, 53, -11}

	g722Q6 = [32]int{
		0, 35, 72, 110, 150, 190, 233, 276, 323, 370, 422, 473,
		530, 587, 650, 714, 786, 858, 940, 1023, 1121, 1219, 1339,
		1458, 1612, 1765, 1980, 2195, 2557, 2919, 0, 0,
	}
	g722ILN = [32]int{
		0, 63, 62, 31, 30, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20,
		19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 0,
	}
	g722ILP = [32]int{
		0, 61, 60, 59, 58, 57, 56, 55, 54, 53, 52, 51, 50, 49, 48,
		47, 46, 45, 44, 43, 42, 41, 40, 39, 38, 37, 36, 35, 34, 33, 32, 0,
	}
	g722WL   = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
	g722RL42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 7, 6, 5, 4, 3, 2, 1, 0}
	g722ILB  = [32]int{
		2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
		2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
		2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
		3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
	}
	g722QM4 = [16]int{
		0, -20456, -12896, -8968, -6288, -4240, -2584, -1200,
		20456, 12896, 8968, 6288, 4240, 2584, 1200, 0,
	}
	g722QM2 = [4]int{-7408, -1616, 7408, 1616}
	g722QM6 = [64]int{
		-136, -136, -136, -136, -24808, -21904, -19008, -16704,
		-14984, -13512, -12280, -11192, -10232, -9360, -8576, -7856,
		-7192, -6576, -6000, -5456, -4944, -4464, -4008, -3576,
		-3168, -2776, -2400, -2032, -1688, -1360, -1040, -728,
		24808, 21904, 19008, 16704, 14984, 13512, 12280, 11192,
		10232, 9360, 8576, 7856, 7192, 6576, 6000, 5456,
		4944, 4464, 4008, 3576, 3168, 2776, 2400, 2032,
		1688, 1360, 1040, 728, 432, 136, -432, -136,
	}
	g722IHN = [3]int{0, 1, 0}
	g722IHP = [3]int{0, 3, 2}
	g722WH  = [3]int{0, -214, 798}
	g722RH2 = [4]int{2, 1, 2, 1}
)

func g722Saturate(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// g722Block4 is the shared predictor update (blocks 4L/4H of the
// recommendation): pole/zero coefficient adaptation followed by the
// predictor filters.
func g722Block4(band *g722Band, d int) {
	band.d[0] = d
	band.r[0] = g722Saturate(band.s + d)
	band.p[0] = g722Saturate(band.sz + d)

	for i := 0; i < 3; i++ {
		band.sg[i] = band.p[i] >> 15
	}
	wd1 := g722Saturate(band.a[1] << 2)
	wd2 := wd1
	if band.sg[0] == band.sg[1] {
		wd2 = -wd1
	}
	if wd2 > 32767 {
		wd2 = 32767
	}
	wd3 := wd2 >> 7
	if band.sg[0] == band.sg[2] {
		wd3 += 128
	} else {
		wd3 -= 128
	}
	wd3 += (band.a[2] * 32512) >> 15
	if wd3 > 12288 {
		wd3 = 12288
	} else if wd3 < -12288 {
		wd3 = -12288
	}
	band.ap[2] = wd3

	band.sg[0] = band.p[0] >> 15
	band.sg[1] = band.p[1] >> 15
	if band.sg[0] == band.sg[1] {
		wd1 = 192
	} else {
		wd1 = -192
	}
	wd2 = (band.a[1] * 32640) >> 15
	band.ap[1] = g722Saturate(wd1 + wd2)
	wd3 = g722Saturate(15360 - band.ap[2])
	if band.ap[1] > wd3 {
		band.ap[1] = wd3
	} else if band.ap[1] < -wd3 {
		band.ap[1] = -wd3
	}

	if d == 0 {
		wd1 = 0
	} else {
		wd1 = 128
	}
	band.sg[0] = d >> 15
	for i := 1; i < 7; i++ {
		band.sg[i] = band.d[i] >> 15
		if band.sg[i] == band.sg[0] {
			wd2 = wd1
		} else {
			wd2 = -wd1
		}
		wd3 = (band.b[i] * 32640) >> 15
		band.bp[i] = g722Saturate(wd2 + wd3)
	}

	for i := 6; i > 0; i-- {
		band.d[i] = band.d[i-1]
		band.b[i] = band.bp[i]
	}
	for i := 2; i > 0; i-- {
		band.r[i] = band.r[i-1]
		band.p[i] = band.p[i-1]
		band.a[i] = band.ap[i]
	}

	wd1 = g722Saturate(band.r[1] + band.r[1])
	wd1 = (band.a[1] * wd1) >> 15
	wd2 = g722Saturate(band.r[2] + band.r[2])
	wd2 = (band.a[2] * wd2) >> 15
	band.sp = g722Saturate(wd1 + wd2)

	band.sz = 0
	for i := 6; i > 0; i-- {
		wd1 = g722Saturate(band.d[i] + band.d[i])
		band.sz += (band.b[i] * wd1) >> 15
	}
	band.sz = g722Saturate(band.sz)

	band.s = g722Saturate(band.sp + band.sz)
}

// Encode compresses 16 kHz s16le PCM. Input must hold an even number
// of samples; each sample pair yields one output byte.
func (c *g722Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%4 != 0 {
		return nil, fmt.Errorf("%w: g722 encode needs sample pairs, got %d bytes", ErrMalformedPayload, len(pcm))
	}
	samples := utils.PCMBytesToInt16(pcm)
	out := make([]byte, 0, len(samples)/2)

	for j := 0; j < len(samples); j += 2 {
		copy(c.encQMF[:22], c.encQMF[2:24])
		c.encQMF[22] = int(samples[j])
		c.encQMF[23] = int(samples[j+1])

		sumOdd, sumEven := 0, 0
		for i := 0; i < 12; i++ {
			sumOdd += c.encQMF[2*i] * g722QMFCoeffs[i]
			sumEven += c.encQMF[2*i+1] * g722QMFCoeffs[11-i]
		}
		xlow := (sumEven + sumOdd) >> 14
		xhigh := (sumEven - sumOdd) >> 14

		low := &c.encBands[0]
		el := g722Saturate(xlow - low.s)
		wd := el
		if el < 0 {
			wd = -(el + 1)
		}
		i := 1
		for ; i < 30; i++ {
			if wd < (g722Q6[i]*low.det)>>12 {
				break
			}
		}
		var ilow int
		if el < 0 {
			ilow = g722ILN[i]
		} else {
			ilow = g722ILP[i]
		}

		ril := ilow >> 2
		dlow := (low.det * g722QM4[ril]) >> 15

		il4 := g722RL42[ril]
		low.nb = (low.nb*127)>>7 + g722WL[il4]
		if low.nb < 0 {
			low.nb = 0
		} else if low.nb > 18432 {
			low.nb = 18432
		}
		wd1 := low.nb >> 6 & 31
		wd2 := 8 - low.nb>>11
		if wd2 < 0 {
			low.det = (g722ILB[wd1] << -wd2) << 2
		} else {
			low.det = (g722ILB[wd1] >> wd2) << 2
		}

		g722Block4(low, dlow)

		high := &c.encBands[1]
		eh := g722Saturate(xhigh - high.s)
		wd = eh
		if eh < 0 {
			wd = -(eh + 1)
		}
		mih := 1
		if wd >= (564*high.det)>>12 {
			mih = 2
		}
		var ihigh int
		if eh < 0 {
			ihigh = g722IHN[mih]
		} else {
			ihigh = g722IHP[mih]
		}

		dhigh := (high.det * g722QM2[ihigh]) >> 15

		ih2 := g722RH2[ihigh]
		high.nb = (high.nb*127)>>7 + g722WH[ih2]
		if high.nb < 0 {
			high.nb = 0
		} else if high.nb > 22528 {
			high.nb = 22528
		}
		wd1 = high.nb >> 6 & 31
		wd2 = 10 - high.nb>>11
		if wd2 < 0 {
			high.det = (g722ILB[wd1] << -wd2) << 2
		} else {
			high.det = (g722ILB[wd1] >> wd2) << 2
		}

		g722Block4(high, dhigh)

		out = append(out, byte(ihigh<<6|ilow))
	}
	return out, nil
}

// Decode expands a 64 kbit/s G.722 payload to 16 kHz s16le PCM; one
// payload byte yields two samples.
func (c *g722Codec) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty g722 payload", ErrMalformedPayload)
	}
	samples := make([]int16, 0, len(payload)*2)

	for _, code := range payload {
		ilow := int(code) & 0x3f
		ihigh := int(code) >> 6 & 0x03

		low := &c.decBands[0]
		wd2 := (low.det * g722QM6[ilow]) >> 15
		rlow := low.s + wd2
		if rlow > 16383 {
			rlow = 16383
		} else if rlow < -16384 {
			rlow = -16384
		}

		ril := ilow >> 2
		dlow := (low.det * g722QM4[ril]) >> 15

		il4 := g722RL42[ril]
		low.nb = (low.nb*127)>>7 + g722WL[il4]
		if low.nb < 0 {
			low.nb = 0
		} else if low.nb > 18432 {
			low.nb = 18432
		}
		wd1 := low.nb >> 6 & 31
		shift := 8 - low.nb>>11
		if shift < 0 {
			low.det = (g722ILB[wd1] << -shift) << 2
		} else {
			low.det = (g722ILB[wd1] >> shift) << 2
		}

		g722Block4(low, dlow)

		high := &c.decBands[1]
		dhigh := (high.det * g722QM2[ihigh]) >> 15
		rhigh := dhigh + high.s
		if rhigh > 16383 {
			rhigh = 16383
		} else if rhigh < -16384 {
			rhigh = -16384
		}

		ih2 := g722RH2[ihigh]
		high.nb = (high.nb*127)>>7 + g722WH[ih2]
		if high.nb < 0 {
			high.nb = 0
		} else if high.nb > 22528 {
			high.nb = 22528
		}
		wd1 = high.nb >> 6 & 31
		shift = 10 - high.nb>>11
		if shift < 0 {
			high.det = (g722ILB[wd1] << -shift) << 2
		} else {
			high.det = (g722ILB[wd1] >> shift) << 2
		}

		g722Block4(high, dhigh)

		copy(c.decQMF[:22], c.decQMF[2:24])
		c.decQMF[22] = rlow + rhigh
		c.decQMF[23] = rlow - rhigh

		xout1, xout2 := 0, 0
		for i := 0; i < 12; i++ {
			xout2 += c.decQMF[2*i] * g722QMFCoeffs[i]
			xout1 += c.decQMF[2*i+1] * g722QMFCoeffs[11-i]
		}
		samples = append(samples,
			int16(g722Saturate(xout1>>11)),
			int16(g722Saturate(xout2>>11)))
	}
	return utils.Int16ToPCMBytes(samples), nil
}

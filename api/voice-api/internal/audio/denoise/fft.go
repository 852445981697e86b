// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_denoise

import "math"

// Iterative radix-2 FFT, just enough for the 256-point analysis the
// suppressor runs. Length must be a power of two.

func fft(re, im []float64, inverse bool) {
	n := len(re)
	if n < 2 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := 2 * math.Pi / float64(length)
		if !inverse {
			ang = -ang
		}
		wRe, wIm := math.Cos(ang), math.Sin(ang)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				i1 := start + k
				i2 := start + k + half
				tRe := re[i2]*curRe - im[i2]*curIm
				tIm := re[i2]*curIm + im[i2]*curRe
				re[i2] = re[i1] - tRe
				im[i2] = im[i1] - tIm
				re[i1] += tRe
				im[i1] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}

	if inverse {
		for i := range re {
			re[i] /= float64(n)
			im[i] /= float64(n)
		}
	}
}

// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// ADPCM codes 16-bit little-endian PCM, interleaved per channel. It is
// lossy: the decoded length always matches, the samples only approximately.
const (
	adpcmInitialStepIndex = 0x2C
	adpcmMaxStepIndex     = 0x58
	adpcmLevel            = 5

	adpcmSmallDelta = 0x80 // delta below threshold, step index decreases
	adpcmStepUp     = 0x81 // step index increases by 8, same channel follows
	adpcmSignBit    = 0x40
)

var adpcmNextStep = [32]int{
	-1, 0, -1, 4, -1, 2, -1, 6, -1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7, -1, 2, -1, 4, -1, 6, -1, 8,
}

var adpcmStepSize = []int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31,
	34, 37, 41, 45, 50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143,
	157, 173, 190, 209, 230, 253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658,
	724, 796, 876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

func adpcmCompressor(channels int) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		return compressADPCM(data, channels, adpcmLevel), nil
	}
}

func adpcmDecompressor(channels int) func([]byte, int) ([]byte, error) {
	return func(data []byte, limit int) ([]byte, error) {
		return decompressADPCM(data, channels, limit)
	}
}

func adpcmPredict(predicted, encoded, delta int) int {
	if encoded&adpcmSignBit != 0 {
		return max(predicted-delta, -32768)
	}
	return min(predicted+delta, 32767)
}

func adpcmNextStepIndex(index, encoded int) int {
	index += adpcmNextStep[encoded&0x1F]
	return min(max(index, 0), adpcmMaxStepIndex)
}

// compressADPCM returns nil when data is not a whole number of samples.
func compressADPCM(data []byte, channels, level int) []byte {
	samples := len(data) / 2
	if len(data)%2 != 0 || samples < channels {
		return nil
	}
	bitShift := level - 1
	maxBit := min(1<<(bitShift-1), 0x20)

	out := make([]byte, 0, len(data)/2+4)
	out = append(out, 0, byte(bitShift))

	var predicted, stepIndex [2]int
	for ch := 0; ch < channels; ch++ {
		predicted[ch] = int(int16(binary.LittleEndian.Uint16(data[ch*2:])))
		stepIndex[ch] = adpcmInitialStepIndex
		out = append(out, data[ch*2], data[ch*2+1])
	}

	ch := channels - 1
	for i := channels; i < samples; i++ {
		ch = (ch + 1) % channels
		sample := int(int16(binary.LittleEndian.Uint16(data[i*2:])))

		encoded := 0
		delta := sample - predicted[ch]
		if delta < 0 {
			delta = -delta
			encoded = adpcmSignBit
		}

		stepSize := adpcmStepSize[stepIndex[ch]]
		if delta < stepSize>>level {
			if stepIndex[ch] != 0 {
				stepIndex[ch]--
			}
			out = append(out, adpcmSmallDelta)
			continue
		}

		for delta > stepSize<<1 && stepIndex[ch] < adpcmMaxStepIndex {
			stepIndex[ch] = min(stepIndex[ch]+8, adpcmMaxStepIndex)
			stepSize = adpcmStepSize[stepIndex[ch]]
			out = append(out, adpcmStepUp)
		}

		base := stepSize >> bitShift
		total := 0
		for bit := 1; bit <= maxBit; bit <<= 1 {
			if total+stepSize <= delta {
				total += stepSize
				encoded |= bit
			}
			stepSize >>= 1
		}

		predicted[ch] = adpcmPredict(predicted[ch], encoded, base+total)
		out = append(out, byte(encoded))
		stepIndex[ch] = adpcmNextStepIndex(stepIndex[ch], encoded)
	}

	return out
}

func decompressADPCM(data []byte, channels, limit int) ([]byte, error) {
	if len(data) < 2+channels*2 {
		return nil, fmt.Errorf("adpcm header truncated")
	}
	bitShift := int(data[1])
	if bitShift > 15 {
		return nil, fmt.Errorf("adpcm bit shift %d", bitShift)
	}
	in := data[2:]

	out := make([]byte, 0, min(limit, len(data)*4))
	emit := func(sample int) error {
		if len(out)+2 > limit {
			return fmt.Errorf("adpcm output exceeds %d bytes", limit)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(sample)))
		return nil
	}

	var predicted, stepIndex [2]int
	for ch := 0; ch < channels; ch++ {
		predicted[ch] = int(int16(binary.LittleEndian.Uint16(in[ch*2:])))
		stepIndex[ch] = adpcmInitialStepIndex
		if err := emit(predicted[ch]); err != nil {
			return nil, err
		}
	}
	in = in[channels*2:]

	ch := channels - 1
	for _, b := range in {
		ch = (ch + 1) % channels
		encoded := int(b)

		switch {
		case encoded == adpcmSmallDelta:
			if stepIndex[ch] != 0 {
				stepIndex[ch]--
			}
			if err := emit(predicted[ch]); err != nil {
				return nil, err
			}

		case encoded == adpcmStepUp:
			stepIndex[ch] = min(stepIndex[ch]+8, adpcmMaxStepIndex)
			ch = (ch + channels - 1) % channels

		case encoded&0x80 != 0:
			stepIndex[ch] = max(stepIndex[ch]-8, 0)

		default:
			stepSize := adpcmStepSize[stepIndex[ch]]
			delta := stepSize >> bitShift
			for bit := 0; bit < 6; bit++ {
				if encoded&(1<<bit) != 0 {
					delta += stepSize >> bit
				}
			}
			predicted[ch] = adpcmPredict(predicted[ch], encoded, delta)
			if err := emit(predicted[ch]); err != nil {
				return nil, err
			}
			stepIndex[ch] = adpcmNextStepIndex(stepIndex[ch], encoded)
		}
	}

	return out, nil
}

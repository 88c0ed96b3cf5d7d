package media

import "encoding/binary"

// ResampleMono converts mono little-endian int16 PCM between sample
// rates by linear interpolation. Good enough for voice; not for music.
func ResampleMono(input []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate {
		return input
	}

	inputSamples := len(input) / 2
	ratio := float64(outputRate) / float64(inputRate)
	outputSamples := int(float64(inputSamples) * ratio)

	output := make([]byte, outputSamples*2)
	for i := 0; i < outputSamples; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		idx1 := srcIdx
		idx2 := srcIdx + 1
		if idx1 >= inputSamples {
			idx1 = inputSamples - 1
		}
		if idx2 >= inputSamples {
			idx2 = inputSamples - 1
		}

		s1 := int16(binary.LittleEndian.Uint16(input[idx1*2:]))
		s2 := int16(binary.LittleEndian.Uint16(input[idx2*2:]))
		sample := int16(float64(s1)*(1-frac) + float64(s2)*frac)

		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}
	return output
}

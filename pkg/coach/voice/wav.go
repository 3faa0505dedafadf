package voice

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EncodeWAV wraps 16-bit little-endian PCM in a canonical RIFF header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

// PCM16Stats returns the peak absolute sample and the RMS level normalized to
// [0, 1].
func PCM16Stats(p []byte) (peakAbs int, rms float64) {
	n := len(p) / 2
	if n == 0 {
		return 0, 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(p); i += 2 {
		v := int16(binary.LittleEndian.Uint16(p[i : i+2]))
		iv := int(v)
		if iv < 0 {
			iv = -iv
		}
		if iv > peakAbs {
			peakAbs = iv
		}
		f := float64(v) / 32768.0
		sumSquares += f * f
	}
	return peakAbs, math.Sqrt(sumSquares / float64(n))
}

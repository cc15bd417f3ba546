package tools

import (
	"encoding/binary"
	"time"
)

// bytesPerSample is the width of signed 16-bit PCM.
const bytesPerSample = 2

// FrameSamples is the number of interleaved samples in duration of audio.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// FrameBytes is FrameSamples in bytes of 16-bit PCM.
func FrameBytes(duration time.Duration, rate, channels int) int {
	return FrameSamples(duration, rate, channels) * bytesPerSample
}

// AppendPCM16LE appends samples to dst as little-endian 16-bit PCM, the
// format oto plays.
func AppendPCM16LE(dst []byte, samples []int16) []byte {
	for _, v := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

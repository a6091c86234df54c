// Package audio provides the small amount of audio plumbing the conversation
// pipeline needs: PCM duration math, WAV container handling, sample rate and
// channel conversion, and Opus frame decoding for the streaming transport.
//
// All PCM in this package is little-endian signed 16-bit, interleaved when
// more than one channel is present.
package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the pipeline's working format: 16 kHz mono, the common
// input format for speech recognition models.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// PCM16Duration returns the play time of little-endian int16 PCM data in the
// given format. A zero or negative sample rate yields zero.
func PCM16Duration(pcm []byte, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(pcm) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

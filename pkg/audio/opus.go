package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// The streaming transport carries 48 kHz stereo Opus at 20 ms frame size,
// matching what browser and telephony capture stacks emit by default.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = OpusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusFormat is the PCM format produced by [OpusDecoder.Decode].
var OpusFormat = Format{SampleRate: OpusSampleRate, Channels: OpusChannels}

// OpusDecoder decodes a stream of Opus packets into PCM. Each connection
// gets its own decoder to keep decoder state correct across consecutive
// frames. Not safe for concurrent use.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder for the transport's Opus format.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

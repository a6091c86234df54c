package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Info is the metadata extracted from a WAV container header.
type Info struct {
	Format   Format
	DataSize int

	// Duration is the play time of the data chunk.
	Duration time.Duration
}

// ParseWAV reads the RIFF/WAVE header of data and returns the stream info
// without touching the samples. Only uncompressed PCM (format tag 1) is
// supported. The data chunk's payload is returned alongside the info so
// callers can hand the raw samples to the conversion helpers.
func ParseWAV(data []byte) (Info, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, nil, fmt.Errorf("audio: not a RIFF/WAVE container")
	}

	var (
		info    Info
		pcm     []byte
		haveFmt bool
	)
	// Walk the chunk list. Chunks are word-aligned; a chunk with an odd size
	// is followed by one padding byte.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return Info{}, nil, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			if tag != 1 {
				return Info{}, nil, fmt.Errorf("audio: unsupported WAV format tag %d, only PCM is supported", tag)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return Info{}, nil, fmt.Errorf("audio: unsupported bit depth %d, only 16-bit PCM is supported", bits)
			}
			info.Format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			info.DataSize = size
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return Info{}, nil, fmt.Errorf("audio: WAV container has no fmt chunk")
	}
	if pcm == nil {
		return Info{}, nil, fmt.Errorf("audio: WAV container has no data chunk")
	}
	info.Duration = PCM16Duration(pcm, info.Format)
	return info, pcm, nil
}

// WrapPCM wraps raw little-endian int16 PCM in a minimal WAV container. Used
// to hand bare PCM to recognition APIs that require a container.
func WrapPCM(pcm []byte, f Format) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(pcm))

	byteRate := f.SampleRate * f.Channels * 2
	blockAlign := f.Channels * 2

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}

// Duration returns the play time of audio data, sniffing a WAV container
// first and falling back to treating data as raw PCM in fallback format.
func Duration(data []byte, fallback Format) (time.Duration, error) {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		info, _, err := ParseWAV(data)
		if err != nil {
			return 0, err
		}
		return info.Duration, nil
	}
	return PCM16Duration(data, fallback), nil
}

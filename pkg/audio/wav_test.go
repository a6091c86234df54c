package audio_test

import (
	"testing"
	"time"

	"github.com/mwolters/parlo/pkg/audio"
)

func TestWrapPCMRoundTrip(t *testing.T) {
	t.Parallel()

	// One second of silence at 16 kHz mono.
	pcm := make([]byte, 16000*2)
	wav := audio.WrapPCM(pcm, audio.DefaultFormat)

	info, data, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.Format != audio.DefaultFormat {
		t.Errorf("format: want %+v, got %+v", audio.DefaultFormat, info.Format)
	}
	if info.DataSize != len(pcm) {
		t.Errorf("data size: want %d, got %d", len(pcm), info.DataSize)
	}
	if info.Duration != time.Second {
		t.Errorf("duration: want 1s, got %v", info.Duration)
	}
	if len(data) != len(pcm) {
		t.Errorf("payload length: want %d, got %d", len(pcm), len(data))
	}
}

func TestParseWAV_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"empty":     nil,
		"not riff":  []byte("OggS this is not a wav file at all"),
		"truncated": audio.WrapPCM(make([]byte, 100), audio.DefaultFormat)[:30],
	}
	for name, data := range cases {
		if _, _, err := audio.ParseWAV(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPCM16Duration(t *testing.T) {
	t.Parallel()

	// 100 ms of 48 kHz stereo: 4800 frames * 2 channels * 2 bytes.
	pcm := make([]byte, 4800*2*2)
	got := audio.PCM16Duration(pcm, audio.Format{SampleRate: 48000, Channels: 2})
	if got != 100*time.Millisecond {
		t.Errorf("duration: want 100ms, got %v", got)
	}

	if audio.PCM16Duration(pcm, audio.Format{}) != 0 {
		t.Error("invalid format must yield zero duration")
	}
}

func TestDuration_SniffsContainer(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 8000*2) // 500 ms at 16 kHz mono

	raw, err := audio.Duration(pcm, audio.DefaultFormat)
	if err != nil {
		t.Fatalf("Duration raw: %v", err)
	}
	if raw != 500*time.Millisecond {
		t.Errorf("raw duration: want 500ms, got %v", raw)
	}

	wav, err := audio.Duration(audio.WrapPCM(pcm, audio.DefaultFormat), audio.Format{})
	if err != nil {
		t.Fatalf("Duration wav: %v", err)
	}
	if wav != 500*time.Millisecond {
		t.Errorf("wav duration: want 500ms, got %v", wav)
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := audio.BytesToInt16s(audio.Int16sToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length: want %d, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: want %d, got %d", i, samples[i], got[i])
		}
	}
}

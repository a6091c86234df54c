package audio_test

import (
	"testing"

	"github.com/mwolters/parlo/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	mono := audio.Int16sToBytes([]int16{100, -200, 300})
	stereo := audio.MonoToStereo(mono)

	got := audio.BytesToInt16s(stereo)
	want := []int16{100, 100, -200, -200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := audio.Int16sToBytes([]int16{100, 200, -100, -300})
	mono := audio.BytesToInt16s(audio.StereoToMono(stereo))

	want := []int16{150, -200}
	if len(mono) != len(want) {
		t.Fatalf("length: want %d, got %d", len(want), len(mono))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d: want %d, got %d", i, want[i], mono[i])
		}
	}
}

func TestStereoToMono_Clamps(t *testing.T) {
	t.Parallel()

	stereo := audio.Int16sToBytes([]int16{32767, 32767, -32768, -32768})
	mono := audio.BytesToInt16s(audio.StereoToMono(stereo))
	if mono[0] != 32767 {
		t.Errorf("positive clamp: want 32767, got %d", mono[0])
	}
	if mono[1] != -32768 {
		t.Errorf("negative clamp: want -32768, got %d", mono[1])
	}
}

func TestResampleMono16_Halves(t *testing.T) {
	t.Parallel()

	src := make([]int16, 480) // 10 ms at 48 kHz
	for i := range src {
		src[i] = int16(i)
	}
	out := audio.ResampleMono16(audio.Int16sToBytes(src), 48000, 16000)
	if got := len(out) / 2; got != 160 {
		t.Errorf("48k->16k sample count: want 160, got %d", got)
	}
}

func TestResampleMono16_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	src := audio.Int16sToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(src, 16000, 16000)
	if &out[0] != &src[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestToFormat_StereoHighRateToMono16k(t *testing.T) {
	t.Parallel()

	// 20 ms of 48 kHz stereo.
	src := make([]int16, 960*2)
	pcm := audio.ToFormat(audio.Int16sToBytes(src),
		audio.Format{SampleRate: 48000, Channels: 2},
		audio.DefaultFormat,
	)
	// 20 ms at 16 kHz mono is 320 samples.
	if got := len(pcm) / 2; got != 320 {
		t.Errorf("converted sample count: want 320, got %d", got)
	}
}

func TestToFormat_MatchingFormatIsIdentity(t *testing.T) {
	t.Parallel()

	src := audio.Int16sToBytes([]int16{5, 6})
	out := audio.ToFormat(src, audio.DefaultFormat, audio.DefaultFormat)
	if &out[0] != &src[0] {
		t.Error("matching formats should be a no-op")
	}
}

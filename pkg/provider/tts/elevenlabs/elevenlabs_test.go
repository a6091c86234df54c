package elevenlabs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwolters/parlo/pkg/provider/tts/elevenlabs"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	mp3 := []byte{0xFF, 0xFB, 0x90, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-42" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("api key header: got %q", got)
		}
		if got := r.URL.Query().Get("output_format"); got != "mp3_44100_128" {
			t.Errorf("output_format: got %q", got)
		}
		var body struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Text != "hello" {
			t.Errorf("text: want hello, got %q", body.Text)
		}
		if body.ModelID == "" {
			t.Error("model_id must be set")
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(mp3)
	}))
	defer srv.Close()

	p, err := elevenlabs.New("test-key", elevenlabs.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := p.Synthesize(context.Background(), "hello", "voice-42")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.ContentType != "audio/mpeg" {
		t.Errorf("content type: want audio/mpeg, got %q", audio.ContentType)
	}
	if len(audio.Data) != len(mp3) {
		t.Errorf("audio bytes: want %d, got %d", len(mp3), len(audio.Data))
	}
}

func TestSynthesize_APIErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail": "invalid voice"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p, _ := elevenlabs.New("test-key", elevenlabs.WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hello", "nope"); err == nil {
		t.Error("non-200 response must surface as an error")
	}
}

func TestSynthesize_RequiresVoice(t *testing.T) {
	t.Parallel()

	p, _ := elevenlabs.New("test-key")
	if _, err := p.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Error("empty voice must be rejected")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := elevenlabs.New(""); err == nil {
		t.Error("empty apiKey must be rejected")
	}
}

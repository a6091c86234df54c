package openai_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwolters/parlo/pkg/provider/stt"
	"github.com/mwolters/parlo/pkg/provider/stt/openai"
)

func TestRecognize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path: want /audio/transcriptions, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model: want whisper-1, got %q", got)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("language: want de, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "guten tag"}`))
	}))
	defer srv.Close()

	p, err := openai.New("test-key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Recognize(context.Background(), stt.Request{
		Audio:       []byte("riff-bytes"),
		ContentType: "audio/wav",
		Language:    "de",
	})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !res.Recognized || res.Text != "guten tag" {
		t.Errorf("result: want recognized %q, got %+v", "guten tag", res)
	}
}

func TestRecognize_EmptyTranscript(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": ""}`))
	}))
	defer srv.Close()

	p, _ := openai.New("test-key", openai.WithBaseURL(srv.URL))
	res, err := p.Recognize(context.Background(), stt.Request{Audio: []byte{0}})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Recognized {
		t.Error("empty transcript must map to Recognized=false")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := openai.New(""); err == nil {
		t.Error("empty apiKey must be rejected")
	}
}

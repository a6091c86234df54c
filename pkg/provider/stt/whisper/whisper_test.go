package whisper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwolters/parlo/pkg/provider/stt"
	"github.com/mwolters/parlo/pkg/provider/stt/whisper"
)

func TestRecognize(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path: want /inference, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		f.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": " hello world \n"}`))
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Recognize(context.Background(), stt.Request{
		Audio:       []byte{1, 2, 3, 4},
		ContentType: "audio/wav",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !res.Recognized {
		t.Fatal("expected a recognized result")
	}
	if res.Text != "hello world" {
		t.Errorf("text: want %q, got %q", "hello world", res.Text)
	}
	if gotLanguage != "en" {
		t.Errorf("language field: want en, got %q", gotLanguage)
	}
}

func TestRecognize_EmptyTextIsUnrecognized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"text": "  "}`))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	res, err := p.Recognize(context.Background(), stt.Request{Audio: []byte{0}})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Recognized {
		t.Error("blank transcript must map to Recognized=false")
	}
	if res.Message == "" {
		t.Error("unrecognized result should carry a message")
	}
}

func TestRecognize_ServerErrorIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Recognize(context.Background(), stt.Request{Audio: []byte{0}}); err == nil {
		t.Error("HTTP 500 must surface as a provider error")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Error("empty baseURL must be rejected")
	}
}

package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwolters/parlo/internal/resilience"
	"github.com/mwolters/parlo/pkg/provider/stt"
	sttmock "github.com/mwolters/parlo/pkg/provider/stt/mock"
	ttspkg "github.com/mwolters/parlo/pkg/provider/tts"

	chatmock "github.com/mwolters/parlo/pkg/provider/chat/mock"
	ttsmock "github.com/mwolters/parlo/pkg/provider/tts/mock"
)

func TestSTT_FallbackServesWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("primary down")}
	backup := &sttmock.Provider{Result: stt.Result{Recognized: true, Text: "from backup"}}

	p := resilience.NewSTT(primary, "primary", resilience.BreakerConfig{})
	p.AddFallback("backup", backup)

	res, err := p.Recognize(context.Background(), stt.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "from backup" {
		t.Errorf("text: got %q", res.Text)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls: primary %d, backup %d", primary.CallCount(), backup.CallCount())
	}
}

func TestSTT_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("primary down")}
	backup := &sttmock.Provider{Result: stt.Result{Recognized: true, Text: "ok"}}

	p := resilience.NewSTT(primary, "primary", resilience.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	p.AddFallback("backup", backup)

	for i := 0; i < 3; i++ {
		if _, err := p.Recognize(context.Background(), stt.Request{Audio: []byte{1}}); err != nil {
			t.Fatalf("Recognize %d: %v", i, err)
		}
	}

	// One real failure trips the breaker; later calls go straight to backup.
	if primary.CallCount() != 1 {
		t.Errorf("primary calls: want 1, got %d", primary.CallCount())
	}
	if backup.CallCount() != 3 {
		t.Errorf("backup calls: want 3, got %d", backup.CallCount())
	}
}

func TestChat_AllBackendsFailing(t *testing.T) {
	t.Parallel()

	primary := &chatmock.Provider{Err: errors.New("one")}
	backup := &chatmock.Provider{Err: errors.New("two")}

	p := resilience.NewChat(primary, "primary", resilience.BreakerConfig{})
	p.AddFallback("backup", backup)

	_, err := p.Complete(context.Background(), nil)
	if !errors.Is(err, resilience.ErrNoHealthyProvider) {
		t.Fatalf("error: got %v", err)
	}
}

func TestChat_CancelledContextStopsChain(t *testing.T) {
	t.Parallel()

	primary := &chatmock.Provider{Reply: "hi"}
	p := resilience.NewChat(primary, "primary", resilience.BreakerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Complete(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("error: got %v", err)
	}
	if primary.CallCount() != 0 {
		t.Errorf("primary calls: want 0, got %d", primary.CallCount())
	}
}

func TestTTS_PassesVoiceThrough(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Audio: ttspkg.Audio{Data: []byte{9}, ContentType: "audio/mpeg"}}
	p := resilience.NewTTS(primary, "primary", resilience.BreakerConfig{})

	audio, err := p.Synthesize(context.Background(), "hello", "rachel")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.ContentType != "audio/mpeg" {
		t.Errorf("content type: got %q", audio.ContentType)
	}
	if len(primary.Calls) != 1 || primary.Calls[0].Voice != "rachel" {
		t.Errorf("calls: got %+v", primary.Calls)
	}
}

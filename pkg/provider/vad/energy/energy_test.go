package energy_test

import (
	"encoding/binary"
	"testing"

	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
	"github.com/rpgscribe/rpgscribe/pkg/provider/vad/energy"
)

func frameOf(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestProcessFrameSpeechStartAndEnd(t *testing.T) {
	eng := energy.New()
	sess, err := eng.NewSession(vad.Config{Aggressiveness: 1})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	silence := frameOf(10, 160)
	loud := frameOf(5000, 160)

	ev, err := sess.ProcessFrame(silence)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.VADSilence {
		t.Fatalf("first frame = %v, want VADSilence", ev.Type)
	}

	ev, err = sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.VADSpeechStart {
		t.Fatalf("loud frame = %v, want VADSpeechStart", ev.Type)
	}

	ev, err = sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.VADSpeechContinue {
		t.Fatalf("second loud frame = %v, want VADSpeechContinue", ev.Type)
	}

	ev, err = sess.ProcessFrame(silence)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.VADSpeechEnd {
		t.Fatalf("silence after speech = %v, want VADSpeechEnd", ev.Type)
	}
}

func TestHigherAggressivenessRaisesThreshold(t *testing.T) {
	eng := energy.New()
	lenient, _ := eng.NewSession(vad.Config{Aggressiveness: 0})
	strict, _ := eng.NewSession(vad.Config{Aggressiveness: 3})
	defer lenient.Close()
	defer strict.Close()

	moderate := frameOf(400, 160)

	ev, _ := lenient.ProcessFrame(moderate)
	if ev.Type == vad.VADSilence {
		t.Error("lenient session classified moderate energy as silence")
	}

	ev, _ = strict.ProcessFrame(moderate)
	if ev.Type != vad.VADSilence {
		t.Error("strict session did not classify moderate energy as silence")
	}
}

func TestResetClearsSpeakingState(t *testing.T) {
	eng := energy.New()
	sess, _ := eng.NewSession(vad.Config{Aggressiveness: 1})
	defer sess.Close()

	loud := frameOf(5000, 160)
	sess.ProcessFrame(loud)
	sess.Reset()

	ev, _ := sess.ProcessFrame(loud)
	if ev.Type != vad.VADSpeechStart {
		t.Fatalf("after Reset, loud frame = %v, want VADSpeechStart", ev.Type)
	}
}

func TestProcessFrameAfterCloseErrors(t *testing.T) {
	eng := energy.New()
	sess, _ := eng.NewSession(vad.Config{})
	sess.Close()

	if _, err := sess.ProcessFrame(frameOf(100, 160)); err == nil {
		t.Fatal("expected error after Close")
	}
}

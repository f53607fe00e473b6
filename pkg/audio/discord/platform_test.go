package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rpgscribe/rpgscribe/pkg/audio"
)

// opusSilence is a minimal valid Opus silence frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// fakeConnection builds a Connection over stub Opus channels, without a real
// gateway. The voice-state handler is not registered since the bare session
// has no websocket.
func fakeConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:         vc,
		session:    &discordgo.Session{},
		guildID:    "guild-test",
		streams:    make(map[string]chan audio.AudioFrame),
		speakers:   make(map[uint32]string),
		output:     make(chan audio.AudioFrame, outputChannelBuffer),
		done:       make(chan struct{}),
		teardownVC: func() error { return nil },
	}
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestNewPlatformStoresSessionAndGuild(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p.session != s || p.guildID != "guild-123" {
		t.Errorf("Platform = %+v, want session and guild retained", p)
	}
}

func TestDisconnectIsIdempotentAndConcurrent(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if err := c.Disconnect(); err != nil {
				t.Errorf("repeat Disconnect: %v", err)
			}
		})
	}
	wg.Wait()
}

func TestInputAndOutputStreamAccessors(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)
	if streams := c.InputStreams(); streams == nil || len(streams) != 0 {
		t.Errorf("fresh InputStreams = %v, want empty non-nil map", streams)
	}
	if c.OutputStream() == nil {
		t.Error("OutputStream returned nil")
	}
}

func TestParticipantCallbackReplacement(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)

	first := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) { first <- ev })
	c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: "u1", Username: "Alice"})

	select {
	case ev := <-first:
		if ev.Type != audio.EventJoin || ev.UserID != "u1" || ev.Username != "Alice" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	second := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) { second <- ev })
	c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: "u1"})

	select {
	case ev := <-second:
		if ev.Type != audio.EventLeave {
			t.Errorf("replacement callback event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("replacement callback never fired")
	}
	select {
	case ev := <-first:
		t.Errorf("replaced callback still receiving: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecvDemuxesBySpeaker(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: opusSilence}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: opusSilence}
	time.Sleep(100 * time.Millisecond)

	streams := c.InputStreams()
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	// No speaking update seen, so speakers fall back to decimal SSRCs.
	for _, key := range []string{"100", "200"} {
		ch, ok := streams[key]
		if !ok {
			t.Fatalf("no stream for speaker %q: %v", key, streams)
		}
		select {
		case frame := <-ch:
			if frame.SampleRate != opusSampleRate || frame.Channels != opusChannels {
				t.Errorf("speaker %s frame format = %dHz %dch", key, frame.SampleRate, frame.Channels)
			}
			if len(frame.Data) == 0 {
				t.Errorf("speaker %s frame is empty", key)
			}
		case <-time.After(time.Second):
			t.Fatalf("speaker %s: no frame arrived", key)
		}
	}
}

func TestSpeakingUpdateBindsUserID(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-42", SSRC: 300, Speaking: true})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 300, Opus: opusSilence}
	time.Sleep(100 * time.Millisecond)

	streams := c.InputStreams()
	if _, ok := streams["user-42"]; !ok {
		t.Fatalf("stream keys = %v, want user-42 from speaking update", streams)
	}
}

func TestSendEncodesToOpus(t *testing.T) {
	t.Parallel()

	c := fakeConnection(t)

	// Exactly one Opus frame of 48 kHz stereo PCM.
	pcm := make([]byte, opusFrameSize*opusChannels*2)
	c.OutputStream() <- audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}

	select {
	case encoded := <-c.vc.OpusSend:
		if len(encoded) == 0 {
			t.Error("empty Opus packet sent")
		}
	case <-time.After(time.Second):
		t.Fatal("no Opus packet emitted")
	}
}

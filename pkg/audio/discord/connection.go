package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rpgscribe/rpgscribe/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64
)

// Connection adapts one joined discordgo voice connection to
// [audio.Connection]. Inbound Opus packets are demuxed by SSRC, decoded to
// PCM, and delivered on per-speaker channels; outbound PCM is chunked to
// Opus frame size, encoded, and sent. Safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu       sync.RWMutex
	streams  map[string]chan audio.AudioFrame // keyed by speaker ID
	speakers map[uint32]string                // SSRC → Discord user ID

	output chan audio.AudioFrame

	cbMu     sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// teardownVC defaults to vc.Disconnect; tests substitute it.
	teardownVC func() error
}

// newConnection wires up a Connection over an already-joined voice channel
// and starts its receive and send loops.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) (*Connection, error) {
	c := &Connection{
		vc:         vc,
		session:    session,
		guildID:    guildID,
		streams:    make(map[string]chan audio.AudioFrame),
		speakers:   make(map[uint32]string),
		output:     make(chan audio.AudioFrame, outputChannelBuffer),
		done:       make(chan struct{}),
		teardownVC: vc.Disconnect,
	}

	// Speaking updates carry the SSRC → user ID binding; without them
	// inbound packets can only be attributed to a raw SSRC.
	vc.AddHandler(c.handleSpeakingUpdate)

	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.recvLoop()
	go c.sendLoop()

	return c, nil
}

// InputStreams implements audio.Connection. Keys are Discord user IDs once a
// speaking update has bound the speaker's SSRC, or the decimal SSRC until
// then. A stream is created on its speaker's first packet and stays open
// after that participant leaves; streams are closed only by Disconnect.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.streams))
	for id, ch := range c.streams {
		snap[id] = ch
	}
	return snap
}

// OutputStream implements audio.Connection.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// OnParticipantChange implements audio.Connection.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.changeCb = cb
}

// Disconnect implements audio.Connection. The first call tears down the
// voice connection and closes every inbound stream; later calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.teardownVC != nil {
			err = c.teardownVC()
		}

		c.mu.Lock()
		for id, ch := range c.streams {
			close(ch)
			delete(c.streams, id)
		}
		c.mu.Unlock()
	})
	return err
}

// handleSpeakingUpdate records the SSRC → user binding Discord announces
// before a participant's first packets.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.mu.Lock()
	c.speakers[uint32(su.SSRC)] = su.UserID
	c.mu.Unlock()
}

// speakerID resolves an SSRC to the best identity currently known.
func (c *Connection) speakerID(ssrc uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.speakers[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// recvLoop drains vc.OpusRecv until the connection closes, maintaining one
// decoder per SSRC so decoder state survives across packets.
func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			c.deliverPacket(pkt, decoders)
		}
	}
}

// deliverPacket decodes one inbound packet and hands the PCM to its
// speaker's stream, creating the stream on first sight of the speaker.
func (c *Connection) deliverPacket(pkt *discordgo.Packet, decoders map[uint32]*opusDecoder) {
	speaker := c.speakerID(pkt.SSRC)

	dec := decoders[pkt.SSRC]
	if dec == nil {
		var err error
		dec, err = newOpusDecoder()
		if err != nil {
			slog.Error("discord: create opus decoder", "speaker", speaker, "error", err)
			return
		}
		decoders[pkt.SSRC] = dec
	}

	c.mu.Lock()
	ch, known := c.streams[speaker]
	if !known {
		ch = make(chan audio.AudioFrame, inputChannelBuffer)
		c.streams[speaker] = ch
	}
	c.mu.Unlock()

	if !known {
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: speaker})
	}

	pcm, err := dec.decode(pkt.Opus)
	if err != nil {
		slog.Warn("discord: opus decode error", "speaker", speaker, "error", err)
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
	}
	select {
	case ch <- frame:
	default:
		// Consumer is behind; dropping beats blocking the receive loop.
	}
}

// sendLoop encodes queued outbound PCM into exact Opus frames and pushes
// them to Discord, toggling the speaking flag around activity.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	// One Opus frame of PCM input: 960 samples × 2 channels × 2 bytes.
	const opusFrameBytes = opusFrameSize * opusChannels * 2

	speaking := false
	var pending []byte

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}

			pending = append(pending, conv.Convert(frame).Data...)

			for len(pending) >= opusFrameBytes {
				encoded, encErr := enc.encode(pending[:opusFrameBytes])
				pending = pending[opusFrameBytes:]
				if encErr != nil {
					slog.Warn("discord: opus encode error", "error", encErr)
					continue
				}
				select {
				case c.vc.OpusSend <- encoded:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleVoiceStateUpdate turns guild voice-state changes into join/leave
// events for the channel this connection occupies.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID

	switch {
	case wasHere && !isHere:
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
	case isHere && !wasHere:
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.cbMu.Lock()
	cb := c.changeCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

// Package discord implements the [audio.Platform] seam over Discord voice
// channels using bwmarrin/discordgo, translating between Discord's Opus
// transport and the pipeline's PCM frames. The discordgo session itself is
// owned by the caller; this package only joins channels on it.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/rpgscribe/rpgscribe/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform joins voice channels within one guild over an existing discordgo
// session. Safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New builds a Platform bound to session and guildID.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect implements audio.Platform. The bot joins unmuted and undeafened
// since it both records and may speak.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	conn, err := newConnection(vc, p.session, p.guildID)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}

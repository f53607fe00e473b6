// Package mock supplies in-memory doubles for [audio.Platform] and
// [audio.Connection]. Configure the *Result fields before use, then inspect
// the recorded calls. Safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/rpgscribe/rpgscribe/pkg/audio"
)

// Connection is a canned [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is what InputStreams hands back; nil is served as
	// an empty map.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// OutputStreamResult is what OutputStream hands back.
	OutputStreamResult chan<- audio.AudioFrame

	// DisconnectError is returned from Disconnect.
	DisconnectError error

	CallCountInputStreams        int
	CallCountOutputStream        int
	CallCountDisconnect          int
	CallCountOnParticipantChange int

	// RecordedCallbacks collects every callback registered through
	// OnParticipantChange; fire them with EmitEvent.
	RecordedCallbacks []func(audio.Event)
}

var _ audio.Connection = (*Connection)(nil)

// InputStreams implements audio.Connection.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	if c.InputStreamsResult == nil {
		return map[string]<-chan audio.AudioFrame{}
	}
	return c.InputStreamsResult
}

// OutputStream implements audio.Connection.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOutputStream++
	return c.OutputStreamResult
}

// OnParticipantChange implements audio.Connection.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnParticipantChange++
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Disconnect implements audio.Connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitEvent drives every recorded callback with ev, simulating a participant
// joining or leaving.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	var cbs []func(audio.Event)
	cbs = append(cbs, c.RecordedCallbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ConnectCall records the arguments of one Platform.Connect invocation.
type ConnectCall struct {
	ChannelID string
}

// Platform is a canned [audio.Platform].
type Platform struct {
	mu sync.Mutex

	ConnectResult audio.Connection
	ConnectError  error

	ConnectCalls []ConnectCall
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements audio.Platform.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}

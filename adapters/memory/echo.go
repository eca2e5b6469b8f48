package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

var errEchoClosed = errors.New("echo session closed")

// EchoConnector opens offline upstream sessions that replay user text turns
// as if the model had heard and repeated them. Audio is accepted and
// discarded.
type EchoConnector struct{}

var _ repositories.LiveConnector = EchoConnector{}

// Connect implements repositories.LiveConnector
func (EchoConnector) Connect(_ context.Context, _ repositories.ConnectOptions) (repositories.LiveSession, error) {
	s := &echoSession{
		out:    make(chan *protocol.Message, 32),
		closed: make(chan struct{}),
	}
	s.out <- protocol.NewSetupComplete()
	return s, nil
}

type echoSession struct {
	out       chan *protocol.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *echoSession) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-s.closed:
		return errEchoClosed
	default:
	}
	if msg.ClientContent == nil {
		return nil
	}

	var text string
	for _, turn := range msg.ClientContent.Turns {
		text += turn.Text()
	}
	if text == "" {
		return nil
	}

	replies := []*protocol.Message{
		{ServerContent: &protocol.ServerContent{InputTranscription: &protocol.Transcription{Text: text, Finished: true}}},
		{ServerContent: &protocol.ServerContent{OutputTranscription: &protocol.Transcription{Text: text}}},
		{ServerContent: &protocol.ServerContent{TurnComplete: true}},
	}
	for _, r := range replies {
		select {
		case s.out <- r:
		case <-s.closed:
			return errEchoClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *echoSession) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case m := <-s.out:
		return m, nil
	case <-s.closed:
		return nil, errEchoClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *echoSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

package transport

import (
	"context"

	"dicebot/internal/host"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is one line of input from a caller, e.g. "/roll 2 d6".
type Message struct {
	From host.Caller
	Text string
}

// Adapter feeds caller input into the dispatcher.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

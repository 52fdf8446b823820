package channel

import (
	"context"
	"errors"
	"fmt"

	"tickerguard/pkg/bus"
)

// ErrUnknownChannel is returned when no adapter is registered under a name.
var ErrUnknownChannel = errors.New("unknown channel")

// Handler accepts one inbound message from an adapter.
type Handler func(context.Context, bus.InboundMessage) error

// Sender performs outbound actions on one transport.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// Adapter bridges one external transport (for example Telegram) into the pipeline.
type Adapter interface {
	Sender
	Name() string
	Run(context.Context, Handler) error
}

// Outbox routes outbound actions to the adapter a message came from.
type Outbox struct {
	senders map[string]Sender
}

func NewOutbox(adapters ...Adapter) *Outbox {
	o := &Outbox{senders: make(map[string]Sender, len(adapters))}
	for _, adapter := range adapters {
		o.senders[adapter.Name()] = adapter
	}
	return o
}

func (o *Outbox) SendText(ctx context.Context, channelName, chatID, text string) error {
	sender, err := o.lookup(channelName)
	if err != nil {
		return err
	}
	return sender.SendText(ctx, chatID, text)
}

func (o *Outbox) DeleteMessage(ctx context.Context, channelName, chatID, messageID string) error {
	sender, err := o.lookup(channelName)
	if err != nil {
		return err
	}
	return sender.DeleteMessage(ctx, chatID, messageID)
}

func (o *Outbox) lookup(channelName string) (Sender, error) {
	sender, ok := o.senders[channelName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channelName)
	}
	return sender, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is a topic based in-process publish/subscribe channel.
package bus

import "context"

// Message is any value published on a topic.
type Message any

// Subscriber receives the messages of one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus publishes messages to every current subscriber of a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

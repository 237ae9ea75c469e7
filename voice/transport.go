// Package voice owns the bot's voice connections: one per guild, each with a
// FIFO queue of audio played through the transport.
package voice

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransportFailed wraps any join or leave failure.
	ErrTransportFailed = errors.New("voice transport failed")
	// ErrTransportTimeout is also matched when the failure was a timeout.
	ErrTransportTimeout = errors.New("voice transport timed out")
	// ErrQueueClosed is returned by Enqueue once the connection is gone.
	ErrQueueClosed = errors.New("voice queue closed")
	// ErrManagerClosed is returned by Join after Shutdown.
	ErrManagerClosed = errors.New("voice manager closed")
)

// Transport is the voice library the manager drives.
type Transport interface {
	Join(ctx context.Context, guildID, channelID string) (Conn, error)
	Leave(ctx context.Context, guildID string) error
	// Present reports whether the transport still holds a connection for
	// the guild.
	Present(guildID string) bool
	// Subscribe calls fn when the guild's connection drops without Leave.
	// fn must not be called while Subscribe or the returned cancel runs.
	Subscribe(guildID string, fn func()) (cancel func())
}

// Conn is one live voice connection.
type Conn interface {
	SendFrame(ctx context.Context, frame []byte) error
	Speaking(speaking bool) error
}

func transportError(op, guildID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s guild %s: %v", ErrTransportFailed, ErrTransportTimeout, op, guildID, err)
	}
	return fmt.Errorf("%w: %s guild %s: %v", ErrTransportFailed, op, guildID, err)
}

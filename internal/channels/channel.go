// Package channels adapts external messaging platforms (Telegram, Discord,
// ...) to the autonomy loop's IncomingMessage/OutgoingMessage traffic: each
// adapter turns platform-native events into autonomy.IncomingMessage and
// turns an autonomy.OutgoingMessage back into a platform-native send.
package channels

import "context"

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram"), also
	// used as the scheme prefix of the opaque routing strings this adapter
	// produces and consumes (e.g., "telegram:123456").
	Name() string

	// Start begins listening for messages. It should block until the
	// context is canceled or a fatal error occurs.
	Start(ctx context.Context) error

	// Send delivers content to target, a native chat/channel identifier
	// (the part of a routing string after the "name:" prefix).
	Send(ctx context.Context, target, content string) error
}

// splitTarget splits an opaque "name:target" routing string (an
// autonomy.OutgoingMessage.Channel or a scheduler watcher's ReplyChannel)
// into its adapter name and native target. ok is false if the string has no
// colon.
func splitTarget(routing string) (name, target string, ok bool) {
	for i := 0; i < len(routing); i++ {
		if routing[i] == ':' {
			return routing[:i], routing[i+1:], true
		}
	}
	return "", "", false
}

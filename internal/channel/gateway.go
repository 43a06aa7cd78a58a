// Package channel connects messaging platforms to the engine: it delivers
// replies through a Gateway and feeds inbound messages to the engine in
// arrival order per conversation.
package channel

import (
	"context"

	"github.com/huntred/flowbot/internal/engine"
)

// Gateway sends replies to one messaging platform.
type Gateway interface {
	SendText(ctx context.Context, userID, platform, text string) error
	SendOptions(ctx context.Context, userID, platform, text string, options []string) error
}

// Handler runs a conversation turn.
type Handler interface {
	Handle(ctx context.Context, in engine.Inbound) engine.Reply
}

// Deliver sends reply back to the sender of in.
func Deliver(ctx context.Context, gw Gateway, in engine.Inbound, reply engine.Reply) error {
	if len(reply.Options) > 0 {
		return gw.SendOptions(ctx, in.UserID, in.Platform, reply.Text, reply.Options)
	}
	return gw.SendText(ctx, in.UserID, in.Platform, reply.Text)
}

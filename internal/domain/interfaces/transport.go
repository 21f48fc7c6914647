package interfaces

import (
	"context"

	domaintypes "pulse/internal/domain/types"
)

// Transport moves envelopes between clients. Delivery is at-least-once and
// may be out of order; callers deduplicate by message id.
type Transport interface {
	Send(ctx context.Context, conversation domaintypes.ConversationID, env domaintypes.Envelope) error
	// Subscribe streams envelopes for a conversation until ctx is done, at
	// which point the channel is closed.
	Subscribe(ctx context.Context, conversation domaintypes.ConversationID) (<-chan domaintypes.Envelope, error)
}

// Directory serves published pre-key bundles.
type Directory interface {
	// FetchBundle hands out one bundle for user. Each bundle with a one-time
	// pre-key is handed out at most once.
	FetchBundle(ctx context.Context, user domaintypes.UserID) (domaintypes.PreKeyBundle, error)
	PublishBundles(ctx context.Context, user domaintypes.UserID, bundles []domaintypes.PreKeyBundle) error
}

package store

import (
	"context"

	"github.com/xmtp-go/libxmtp-core/group"
)

// GroupMessageAdapter narrows MessageRepo to group.MessageWriter, the
// same purpose SweeperAdapter serves for the sweeper package: the group
// package persists messages without depending on store's full Message
// shape.
type GroupMessageAdapter struct {
	Messages *MessageRepo
}

func (a GroupMessageAdapter) SaveLocalMessage(ctx context.Context, m group.LocalMessage) error {
	return a.Messages.Insert(ctx, Message{
		ID:                   m.ID,
		GroupID:              m.GroupID,
		SentAtNs:             m.SentAtNs,
		SenderInboxID:        m.SenderInboxID,
		SenderInstallationID: m.SenderInstallationID,
		Kind:                 MessageApplication,
		EncryptedContent:     m.Ciphertext,
		ExpireAtNs:           m.ExpireAtNs,
		DeliveryStatus:       DeliveryPublished,
	})
}

// Package devicesync implements the device-sync worker (§4.5, spec
// component F): a secondary "sync group" shared by every installation of
// one inbox. Payloads are tagged as consent, contact, or HMAC-key
// records; the Worker publishes and applies consent records only.
package devicesync

import (
	"github.com/xmtp-go/libxmtp-core/identity"
)

// PayloadKind tags what one sync-group message carries (§4.5).
type PayloadKind uint8

const (
	PayloadConsent PayloadKind = iota
	PayloadContact
	PayloadHMACKeys
)

// Payload is one message published to the sync group.
type Payload struct {
	Kind PayloadKind
	Data []byte
}

// SyncGroup identifies the secondary group an inbox's installations use
// to exchange Payloads (§4.5 "one sync group per inbox, created
// automatically on first additional installation").
type SyncGroup struct {
	InboxID identity.InboxID
	GroupID []byte
}

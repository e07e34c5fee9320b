// Package contacts implements the contact aggregator (§4.8, spec
// component H): folding membership across every conversation into one
// Contact per inbox, deduplicated and annotated with consent state.
package contacts

import (
	"github.com/xmtp-go/libxmtp-core/consent"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// Contact is one inbox's aggregated view, built fresh by List on every
// call rather than persisted as its own row (§4.8 step 6).
type Contact struct {
	InboxID            identity.InboxID
	AccountIdentifiers []string // hex wallet addresses active per the identity graph
	InstallationIDs    []identity.InstallationID
	ConversationIDs    map[string]bool // hex group ids shared with the caller
	ConsentState       consent.State
}

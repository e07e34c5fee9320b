package contacts

import (
	"time"

	"github.com/xmtp-go/libxmtp-core/consent"
)

// groupBatchSize bounds how many groups (§4.8 step 2) and how many
// inboxes (§4.8 step 4) are folded per cycle, to bound resource use.
const groupBatchSize = 100

// SortKey picks which field List orders contacts by (§4.8 step 6).
type SortKey uint8

const (
	SortByInboxID SortKey = iota
	SortByAccountAddress
)

// ConversationTypeFilter pins find_groups to DM or group conversations.
// Filter.ConversationType is a pointer so the zero Filter means "either",
// rather than silently defaulting to one kind.
type ConversationTypeFilter uint8

const (
	FilterGroup ConversationTypeFilter = iota
	FilterDM
)

// Filter narrows find_groups's storage-layer query (§4.8 step 1) and the
// subsequent consent-state filter, sort, and page (§4.8 step 6).
type Filter struct {
	IncludeGroupIDs  [][]byte
	ExcludeGroupIDs  [][]byte
	ConversationType *ConversationTypeFilter
	CreatedAfter     time.Time
	CreatedBefore    time.Time

	// GroupConsentStates narrows find_groups to conversations whose own
	// consent entity (consent.EntityGroupID) is one of these states
	// (§4.8 step 1). ContactConsentStates instead filters the resulting
	// contacts by each inbox's own consent state (§4.8 step 6) — the two
	// are different axes and both are optional.
	GroupConsentStates   []consent.State
	ContactConsentStates []consent.State

	SortBy     SortKey
	Descending bool
	Offset     int
	Limit      int
}

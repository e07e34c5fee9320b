package contacts

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/xmtp-go/libxmtp-core/consent"
	"github.com/xmtp-go/libxmtp-core/group"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// GroupMember is one member row extracted from a group's stored MLS
// extensions (§4.8 step 2): an inbox id and the identity-update sequence
// number known when that inbox was last added or refreshed.
type GroupMember struct {
	InboxID    identity.InboxID
	SequenceID uint64
}

// GroupSummary is what find_groups returns per matching conversation —
// enough to extract membership without reconstructing the live Group
// state machine.
type GroupSummary struct {
	GroupID   []byte
	Type      group.ConversationType
	CreatedAt int64 // unix nanos
	Members   []GroupMember
}

// GroupSource implements find_groups (§4.8 step 1): applies Filter at the
// storage layer and returns each matching conversation's member set,
// implemented by store.ConversationRepo.
type GroupSource interface {
	FindGroups(ctx context.Context, f Filter) ([]GroupSummary, error)
}

// IdentityResolver batch-resolves association states, matching
// identity.Graph.Batch's signature structurally — no adapter required.
type IdentityResolver interface {
	Batch(ctx context.Context, requests []identity.SequenceRequest) (map[identity.InboxID]*identity.AssociationState, map[identity.InboxID]error)
}

// ConsentSource returns every recorded consent decision in one query,
// matching consent.Ledger.All (§4.8 step 5 "batch-fetch consent
// records").
type ConsentSource interface {
	All(ctx context.Context) ([]consent.Record, error)
}

// Aggregator implements the §4.8 find_groups / dedup / batch-resolve /
// batch-consent algorithm, merging membership across every conversation
// into one Contact per inbox (§8 invariant 6: the caller's own inbox
// never appears in its own list).
type Aggregator struct {
	groups   GroupSource
	identity IdentityResolver
	consents ConsentSource
	self     identity.InboxID
}

// New constructs an Aggregator scoped to self, the caller's own inbox,
// which List always excludes from its results.
func New(groups GroupSource, identityResolver IdentityResolver, consents ConsentSource, self identity.InboxID) *Aggregator {
	return &Aggregator{groups: groups, identity: identityResolver, consents: consents, self: self}
}

// List runs the full §4.8 algorithm and returns one page of contacts.
func (a *Aggregator) List(ctx context.Context, f Filter) ([]Contact, error) {
	summaries, err := a.groups.FindGroups(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("finding groups: %w", err)
	}

	maxSeq, conversationIDs := extractMembers(summaries)
	delete(maxSeq, a.self)
	delete(conversationIDs, a.self)

	states, err := a.resolveStates(ctx, maxSeq)
	if err != nil {
		return nil, err
	}

	consentByInbox, err := a.consentByInbox(ctx)
	if err != nil {
		return nil, err
	}

	contactsOut := buildContacts(conversationIDs, states, consentByInbox)
	contactsOut = filterByConsent(contactsOut, f.ContactConsentStates)
	sortContacts(contactsOut, f.SortBy, f.Descending)
	return page(contactsOut, f.Offset, f.Limit), nil
}

// extractMembers runs §4.8 steps 2-3: pull (inbox_id, sequence_id) pairs
// from each group's member set in chunks of groupBatchSize, ignoring
// sequence_id == 0 (uninitialized), deduplicating by keeping max
// sequence_id per inbox while recording every group the inbox shares
// with the caller.
func extractMembers(summaries []GroupSummary) (map[identity.InboxID]uint64, map[identity.InboxID]map[string]bool) {
	maxSeq := make(map[identity.InboxID]uint64)
	conversationIDs := make(map[identity.InboxID]map[string]bool)
	for start := 0; start < len(summaries); start += groupBatchSize {
		end := start + groupBatchSize
		if end > len(summaries) {
			end = len(summaries)
		}
		for _, gs := range summaries[start:end] {
			groupKey := hex.EncodeToString(gs.GroupID)
			for _, m := range gs.Members {
				if m.SequenceID == 0 {
					continue
				}
				if m.SequenceID > maxSeq[m.InboxID] {
					maxSeq[m.InboxID] = m.SequenceID
				}
				if conversationIDs[m.InboxID] == nil {
					conversationIDs[m.InboxID] = make(map[string]bool)
				}
				conversationIDs[m.InboxID][groupKey] = true
			}
		}
	}
	return maxSeq, conversationIDs
}

// resolveStates runs §4.8 step 4: batch-resolve association states in
// chunks of groupBatchSize, matching the identity graph's own batching
// unit so one Graph.Batch call coalesces every miss in the chunk into a
// single remote round trip per inbox.
func (a *Aggregator) resolveStates(ctx context.Context, maxSeq map[identity.InboxID]uint64) (map[identity.InboxID]*identity.AssociationState, error) {
	inboxes := make([]identity.InboxID, 0, len(maxSeq))
	for inbox := range maxSeq {
		inboxes = append(inboxes, inbox)
	}
	states := make(map[identity.InboxID]*identity.AssociationState, len(inboxes))
	for start := 0; start < len(inboxes); start += groupBatchSize {
		end := start + groupBatchSize
		if end > len(inboxes) {
			end = len(inboxes)
		}
		requests := make([]identity.SequenceRequest, 0, end-start)
		for _, inbox := range inboxes[start:end] {
			requests = append(requests, identity.SequenceRequest{InboxID: inbox, FromSequence: maxSeq[inbox]})
		}
		resolved, errs := a.identity.Batch(ctx, requests)
		for inbox, state := range resolved {
			states[inbox] = state
		}
		for inbox, err := range errs {
			return nil, fmt.Errorf("resolving association state for inbox %x: %w", inbox[:], err)
		}
	}
	return states, nil
}

// consentByInbox runs §4.8 step 5: one query for every consent record,
// indexed by inbox entity.
func (a *Aggregator) consentByInbox(ctx context.Context) (map[identity.InboxID]consent.State, error) {
	records, err := a.consents.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching consent records: %w", err)
	}
	out := make(map[identity.InboxID]consent.State, len(records))
	for _, rec := range records {
		if rec.EntityType != consent.EntityInboxID {
			continue
		}
		raw, err := hex.DecodeString(rec.Entity)
		if err != nil || len(raw) != len(identity.InboxID{}) {
			continue
		}
		var inbox identity.InboxID
		copy(inbox[:], raw)
		out[inbox] = rec.State
	}
	return out, nil
}

// buildContacts runs §4.8 step 6's construction: one Contact per
// deduplicated inbox, its account identifiers and installations from the
// resolved association state (absent if resolution turned up nothing),
// its consent state defaulting to StateUnknown.
func buildContacts(conversationIDs map[identity.InboxID]map[string]bool, states map[identity.InboxID]*identity.AssociationState, consentByInbox map[identity.InboxID]consent.State) []Contact {
	out := make([]Contact, 0, len(conversationIDs))
	for inbox, convIDs := range conversationIDs {
		c := Contact{InboxID: inbox, ConversationIDs: convIDs, ConsentState: consentByInbox[inbox]}
		if state := states[inbox]; state != nil {
			for addr := range state.Addresses {
				c.AccountIdentifiers = append(c.AccountIdentifiers, addr)
			}
			for instHex := range state.Installations {
				raw, err := hex.DecodeString(instHex)
				if err != nil {
					continue
				}
				c.InstallationIDs = append(c.InstallationIDs, identity.InstallationID(raw))
			}
		}
		out = append(out, c)
	}
	return out
}

func filterByConsent(cs []Contact, states []consent.State) []Contact {
	if len(states) == 0 {
		return cs
	}
	allowed := make(map[consent.State]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	filtered := cs[:0]
	for _, c := range cs {
		if allowed[c.ConsentState] {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func sortContacts(cs []Contact, key SortKey, descending bool) {
	less := func(i, j int) bool {
		if key == SortByAccountAddress {
			return firstAddress(cs[i]) < firstAddress(cs[j])
		}
		return string(cs[i].InboxID[:]) < string(cs[j].InboxID[:])
	}
	if descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(cs, less)
}

func firstAddress(c Contact) string {
	if len(c.AccountIdentifiers) == 0 {
		return ""
	}
	min := c.AccountIdentifiers[0]
	for _, addr := range c.AccountIdentifiers[1:] {
		if addr < min {
			min = addr
		}
	}
	return min
}

func page(cs []Contact, offset, limit int) []Contact {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(cs) {
		return nil
	}
	cs = cs[offset:]
	if limit > 0 && limit < len(cs) {
		cs = cs[:limit]
	}
	return cs
}

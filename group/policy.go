package group

import "github.com/xmtp-go/libxmtp-core/identity"

// Permission is a coarse allow/deny/admin-only gate over one group
// operation (§4.4 "Policy set").
type Permission uint8

const (
	PermissionAllowAll Permission = iota
	PermissionAdminOnly
	PermissionSuperAdminOnly
	PermissionDenyAll
)

// PolicySet is the group's mutable permission configuration, itself
// changed only by a commit carrying a policy-update proposal that
// satisfies the current policy's own admin gate (§4.4 invariant: "a
// policy change must be authorized under the policy in effect before
// the change").
type PolicySet struct {
	AddMember      Permission
	RemoveMember   Permission
	UpdateMetadata Permission
	UpdatePolicy   Permission
	Admins         map[identity.InboxID]bool
	SuperAdmins    map[identity.InboxID]bool
}

// DefaultPolicySet lets any member add members and edit metadata, while
// removing members takes an admin and changing the policy takes a super
// admin; the creator is both (§4.4 "Non-goals" do not
// exclude a sane default; it is not itself a policy template system).
func DefaultPolicySet(creator identity.InboxID) PolicySet {
	return PolicySet{
		AddMember:      PermissionAllowAll,
		RemoveMember:   PermissionAdminOnly,
		UpdateMetadata: PermissionAllowAll,
		UpdatePolicy:   PermissionSuperAdminOnly,
		Admins:         map[identity.InboxID]bool{creator: true},
		SuperAdmins:    map[identity.InboxID]bool{creator: true},
	}
}

// Authorize reports whether actor may perform the operation gated by p
// (§4.4 invariant "an admin-only operation rejects a proposal from a
// non-admin inbox, even if the proposal is otherwise well-formed").
func (ps PolicySet) Authorize(p Permission, actor identity.InboxID) bool {
	switch p {
	case PermissionAllowAll:
		return true
	case PermissionAdminOnly:
		return ps.Admins[actor] || ps.SuperAdmins[actor]
	case PermissionSuperAdminOnly:
		return ps.SuperAdmins[actor]
	case PermissionDenyAll:
		return false
	default:
		return false
	}
}

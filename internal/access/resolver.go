// Package access decides what a caller may do to a prompt set or prompt.
// Decisions are computed by a single pure function over a tagged tuple of
// {action, role, visibility, submission policy, assignment status} so the
// precedence rules are testable in isolation from storage and transport.
package access

// Action is an operation a caller can request on a prompt set or prompt.
type Action string

// Actions subject to access resolution.
const (
	ActionView         Action = "view"
	ActionSubmitPrompt Action = "submitPrompt"
	ActionReview       Action = "review"
	ActionEdit         Action = "edit"
	ActionExclude      Action = "exclude"
)

// Role is a caller's membership role on a prompt set.
type Role string

// Membership roles ordered from most to least privileged.
const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleCollaborator Role = "collaborator"
	RoleReviewer     Role = "reviewer"
	RoleNone         Role = "none"
)

// ValidRole reports whether role is one of the assignable membership roles.
// RoleNone is the absence of a membership and is not assignable.
func ValidRole(role Role) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleCollaborator, RoleReviewer:
		return true
	}
	return false
}

// Visibility is a prompt set's visibility setting.
type Visibility string

// Prompt set visibility values.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// AssignmentStatus is the lifecycle state of a prompt within a prompt set.
// The lifecycle is draft -> included <-> excluded.
type AssignmentStatus string

// Assignment status values.
const (
	StatusDraft    AssignmentStatus = "draft"
	StatusIncluded AssignmentStatus = "included"
	StatusExcluded AssignmentStatus = "excluded"
)

// ValidStatus reports whether s is a recognized assignment status.
func ValidStatus(s AssignmentStatus) bool {
	switch s {
	case StatusDraft, StatusIncluded, StatusExcluded:
		return true
	}
	return false
}

// Decision is the outcome of an access check.
type Decision int

// Access decisions.
const (
	Deny Decision = iota
	Permit
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	if d == Permit {
		return "permit"
	}
	return "deny"
}

// Identity is the resolved caller identity. A zero Identity is anonymous.
// Superuser is an explicit capability claim carried on the identity rather
// than a sentinel user id compared by equality, so malformed input can never
// accidentally match the bypass.
type Identity struct {
	UserID    string
	Superuser bool
}

// Anonymous reports whether the identity carries no authenticated user.
func (id Identity) Anonymous() bool {
	return id.UserID == ""
}

// Target describes the prompt set (and optionally the specific prompt
// assignment) an action is requested against.
type Target struct {
	// Visibility of the prompt set.
	Visibility Visibility

	// AllowsPublicSubmissions is only meaningful when Visibility is public.
	AllowsPublicSubmissions bool

	// Role is the caller's membership role on the prompt set (RoleNone when
	// the caller holds no membership or is anonymous).
	Role Role

	// AssignmentStatus is the status of the specific prompt being targeted,
	// when the check concerns a single prompt. Leave empty for checks at the
	// prompt-set level.
	AssignmentStatus AssignmentStatus
}

// rule is one row of the decision table: which roles always permit the
// action, and whether public visibility alone (optionally gated on the
// submission policy) permits it.
type rule struct {
	roles             map[Role]bool
	public            bool // public visibility alone permits
	publicNeedsSubmit bool // public only counts when AllowsPublicSubmissions
}

// decisionTable encodes the precedence rules for every action. Membership
// checks and visibility checks are independent clauses joined by OR.
var decisionTable = map[Action]rule{
	ActionView: {
		roles:  map[Role]bool{RoleOwner: true, RoleAdmin: true, RoleCollaborator: true, RoleReviewer: true},
		public: true,
	},
	ActionSubmitPrompt: {
		roles:             map[Role]bool{RoleOwner: true, RoleAdmin: true, RoleCollaborator: true},
		public:            true,
		publicNeedsSubmit: true,
	},
	ActionReview: {
		roles:  map[Role]bool{RoleOwner: true, RoleAdmin: true, RoleCollaborator: true, RoleReviewer: true},
		public: true,
	},
	ActionEdit: {
		roles: map[Role]bool{RoleOwner: true, RoleAdmin: true},
	},
	ActionExclude: {
		roles: map[Role]bool{RoleOwner: true, RoleAdmin: true},
	},
}

// managerRoles are the roles that can see and manage excluded prompts.
var managerRoles = map[Role]bool{RoleOwner: true, RoleAdmin: true}

// Decide resolves whether caller may perform action against target.
//
// Precedence:
//  1. A superuser identity bypasses all checks.
//  2. An excluded prompt is visible and actionable only for owner/admin,
//     regardless of prompt-set visibility.
//  3. Otherwise the decision table for the action applies: the caller's
//     role permits, or public visibility permits (for submitPrompt, only
//     when the set allows public submissions).
//
// Unknown actions deny.
func Decide(caller Identity, target Target, action Action) Decision {
	if caller.Superuser {
		return Permit
	}

	// Exclusion is a stronger gate than public visibility.
	if target.AssignmentStatus == StatusExcluded && !managerRoles[target.Role] {
		return Deny
	}

	r, ok := decisionTable[action]
	if !ok {
		return Deny
	}

	if r.roles[target.Role] {
		return Permit
	}

	if r.public && target.Visibility == VisibilityPublic {
		if !r.publicNeedsSubmit || target.AllowsPublicSubmissions {
			return Permit
		}
	}

	return Deny
}

// CanManage reports whether the caller may exclude or re-include prompts on
// the target prompt set. Convenience wrapper used when enriching query
// results with per-set capability flags.
func CanManage(caller Identity, target Target) bool {
	return Decide(caller, target, ActionExclude) == Permit
}

// CanTransition reports whether the caller's role permits moving a prompt
// assignment from one status to another. Owner and admin may perform any
// transition; a collaborator may only promote a draft to included.
// Superusers may perform any transition.
func CanTransition(caller Identity, role Role, from, to AssignmentStatus) bool {
	if caller.Superuser {
		return true
	}
	if managerRoles[role] {
		return true
	}
	if role == RoleCollaborator {
		return from == StatusDraft && to == StatusIncluded
	}
	return false
}

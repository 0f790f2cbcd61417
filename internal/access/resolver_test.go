package access

import "testing"

// TestDecideView tests view permission across roles and visibility.
func TestDecideView(t *testing.T) {
	tests := []struct {
		name     string
		caller   Identity
		target   Target
		expected Decision
	}{
		{
			name:     "public set, anonymous caller",
			caller:   Identity{},
			target:   Target{Visibility: VisibilityPublic, Role: RoleNone},
			expected: Permit,
		},
		{
			name:     "private set, anonymous caller",
			caller:   Identity{},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleNone},
			expected: Deny,
		},
		{
			name:     "private set, reviewer",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleReviewer},
			expected: Permit,
		},
		{
			name:     "private set, collaborator",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleCollaborator},
			expected: Permit,
		},
		{
			name:     "private set, no role",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleNone},
			expected: Deny,
		},
		{
			name:     "private set, superuser with no role",
			caller:   Identity{UserID: "ops", Superuser: true},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleNone},
			expected: Permit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.caller, tt.target, ActionView); got != tt.expected {
				t.Errorf("Decide(view) = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestDecideSubmitPrompt tests the submission-policy gate on public sets.
func TestDecideSubmitPrompt(t *testing.T) {
	tests := []struct {
		name     string
		caller   Identity
		target   Target
		expected Decision
	}{
		{
			name:     "public set with open submissions, no role",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPublic, AllowsPublicSubmissions: true, Role: RoleNone},
			expected: Permit,
		},
		{
			name:     "public set with closed submissions, no role",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPublic, AllowsPublicSubmissions: false, Role: RoleNone},
			expected: Deny,
		},
		{
			name:     "public set with closed submissions, collaborator",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPublic, AllowsPublicSubmissions: false, Role: RoleCollaborator},
			expected: Permit,
		},
		{
			name:     "public set with closed submissions, reviewer",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPublic, AllowsPublicSubmissions: false, Role: RoleReviewer},
			expected: Deny,
		},
		{
			name:     "private set, owner",
			caller:   Identity{UserID: "u1"},
			target:   Target{Visibility: VisibilityPrivate, Role: RoleOwner},
			expected: Permit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.caller, tt.target, ActionSubmitPrompt); got != tt.expected {
				t.Errorf("Decide(submitPrompt) = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestCollaboratorGrantScenario verifies that granting a collaborator role
// flips a previously denied submission to permitted.
func TestCollaboratorGrantScenario(t *testing.T) {
	caller := Identity{UserID: "u1"}
	target := Target{Visibility: VisibilityPublic, AllowsPublicSubmissions: false, Role: RoleNone}

	if got := Decide(caller, target, ActionSubmitPrompt); got != Deny {
		t.Fatalf("expected deny before role grant, got %v", got)
	}

	target.Role = RoleCollaborator
	if got := Decide(caller, target, ActionSubmitPrompt); got != Permit {
		t.Fatalf("expected permit after collaborator grant, got %v", got)
	}
}

// TestDecideEditExclude tests manager-only actions.
func TestDecideEditExclude(t *testing.T) {
	actions := []Action{ActionEdit, ActionExclude}
	roles := []struct {
		role     Role
		expected Decision
	}{
		{RoleOwner, Permit},
		{RoleAdmin, Permit},
		{RoleCollaborator, Deny},
		{RoleReviewer, Deny},
		{RoleNone, Deny},
	}

	for _, action := range actions {
		for _, rr := range roles {
			t.Run(string(action)+"/"+string(rr.role), func(t *testing.T) {
				target := Target{Visibility: VisibilityPublic, Role: rr.role}
				if got := Decide(Identity{UserID: "u1"}, target, action); got != rr.expected {
					t.Errorf("Decide(%s) with role %s = %v, want %v", action, rr.role, got, rr.expected)
				}
			})
		}
	}
}

// TestExcludedPromptGate verifies that exclusion overrides public visibility
// for every role below owner/admin.
func TestExcludedPromptGate(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected Decision
	}{
		{"owner sees excluded prompt", RoleOwner, Permit},
		{"admin sees excluded prompt", RoleAdmin, Permit},
		{"collaborator blocked", RoleCollaborator, Deny},
		{"reviewer blocked", RoleReviewer, Deny},
		{"no role blocked", RoleNone, Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := Target{
				Visibility:       VisibilityPublic,
				Role:             tt.role,
				AssignmentStatus: StatusExcluded,
			}
			if got := Decide(Identity{UserID: "u1"}, target, ActionView); got != tt.expected {
				t.Errorf("Decide(view, excluded) role %s = %v, want %v", tt.role, got, tt.expected)
			}
		})
	}

	// Superuser bypasses the exclusion gate entirely.
	target := Target{Visibility: VisibilityPublic, Role: RoleNone, AssignmentStatus: StatusExcluded}
	if got := Decide(Identity{UserID: "ops", Superuser: true}, target, ActionView); got != Permit {
		t.Errorf("superuser should bypass exclusion gate, got %v", got)
	}
}

// TestDecideUnknownAction verifies unknown actions deny by default.
func TestDecideUnknownAction(t *testing.T) {
	target := Target{Visibility: VisibilityPublic, Role: RoleOwner}
	if got := Decide(Identity{UserID: "u1"}, target, Action("transfer")); got != Deny {
		t.Errorf("unknown action should deny, got %v", got)
	}
}

// TestCanTransition tests the assignment lifecycle transition matrix.
func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		caller   Identity
		role     Role
		from     AssignmentStatus
		to       AssignmentStatus
		expected bool
	}{
		{"owner excludes included prompt", Identity{UserID: "u1"}, RoleOwner, StatusIncluded, StatusExcluded, true},
		{"admin re-includes excluded prompt", Identity{UserID: "u1"}, RoleAdmin, StatusExcluded, StatusIncluded, true},
		{"collaborator promotes draft", Identity{UserID: "u1"}, RoleCollaborator, StatusDraft, StatusIncluded, true},
		{"collaborator cannot exclude", Identity{UserID: "u1"}, RoleCollaborator, StatusIncluded, StatusExcluded, false},
		{"collaborator cannot re-include", Identity{UserID: "u1"}, RoleCollaborator, StatusExcluded, StatusIncluded, false},
		{"reviewer cannot promote draft", Identity{UserID: "u1"}, RoleReviewer, StatusDraft, StatusIncluded, false},
		{"no role cannot transition", Identity{UserID: "u1"}, RoleNone, StatusDraft, StatusIncluded, false},
		{"superuser may do anything", Identity{UserID: "ops", Superuser: true}, RoleNone, StatusIncluded, StatusExcluded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.caller, tt.role, tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s->%s) = %v, want %v", tt.role, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

// TestValidRole verifies role validation.
func TestValidRole(t *testing.T) {
	valid := []Role{RoleOwner, RoleAdmin, RoleCollaborator, RoleReviewer}
	for _, r := range valid {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%s) = false, want true", r)
		}
	}
	invalid := []Role{RoleNone, Role(""), Role("moderator")}
	for _, r := range invalid {
		if ValidRole(r) {
			t.Errorf("ValidRole(%s) = true, want false", r)
		}
	}
}

// TestValidStatus verifies assignment status validation.
func TestValidStatus(t *testing.T) {
	for _, s := range []AssignmentStatus{StatusDraft, StatusIncluded, StatusExcluded} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false, want true", s)
		}
	}
	if ValidStatus(AssignmentStatus("archived")) {
		t.Error("ValidStatus(archived) = true, want false")
	}
}

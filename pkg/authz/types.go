// Package authz implements the permission-rule authorizer:
// policy-entry gating, rule-bucket matching against where-clauses and input
// guards, a two-factor post-check for admins, and shadow/enforce/off
// evaluation modes.
package authz

import "time"

// Role identifies a user's coarse authorization tier.
type Role string

const RoleAdmin Role = "ADMIN"

// EvaluationMode controls how a computed decision affects admission.
type EvaluationMode string

const (
	ModeEnforce EvaluationMode = "enforce"
	ModeShadow  EvaluationMode = "shadow"
	ModeOff     EvaluationMode = "off"
)

// Decision is the admit/deny outcome of an evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Reason is the machine-readable cause of a Decision.
type Reason string

const (
	ReasonNoPolicy    Reason = "NO_POLICY"
	ReasonInactive    Reason = "INACTIVE"
	ReasonAdmin       Reason = "ADMIN"
	ReasonMatched     Reason = "MATCHED"
	ReasonInputGuard  Reason = "INPUT_GUARD"
	ReasonWhereMiss   Reason = "WHERE_MISS"
	ReasonNoMatch     Reason = "NO_MATCH"
	ReasonRateLimit   Reason = "RATE_LIMIT"
	ReasonMFARequired Reason = "MFA_REQUIRED"
)

// MFAEvent names a two-factor post-check outcome for metrics/logging.
type MFAEvent string

const (
	MFAChallengeRequired  MFAEvent = "challenge_required"
	MFASessionExpired     MFAEvent = "session_expired"
	MFAChallengeSatisfied MFAEvent = "challenge_satisfied"
)

// PermissionPreset is a named, versioned rule bundle a user may be assigned.
type PermissionPreset struct {
	ID      string
	Version int
	Rules   []interface{}
}

// User is the subset of account state the authorizer consults.
type User struct {
	ID                 string
	Role               Role
	IsActive           bool
	MFAEnabled         bool
	PermissionsHash    string
	DirectPermissions  []interface{}
	PermissionPresetID string
	PermissionPreset   *PermissionPreset
}

// Session carries the timestamps the two-factor post-check compares against now.
type Session struct {
	CreatedAt         time.Time
	ReauthenticatedAt *time.Time
	MFAVerifiedAt     *time.Time
}

// PolicyEntry names the resource/action a route is guarded by, plus the
// legacy admission flag shadow/off modes fall back to.
type PolicyEntry struct {
	Resource string
	Action   string
	// V1AllowExecutor marks routes the legacy rule admitted for
	// non-admin (EXECUTOR) callers; shadow and off modes admit
	// ADMIN-or-V1AllowExecutor.
	V1AllowExecutor bool
}

// Context carries the evaluation's ambient inputs.
type Context struct {
	UserID          string
	SystemUserID    string
	Mode            EvaluationMode
	Session         *Session
	Now             time.Time
	RequireAdminMFA bool          // deployment flag: admin role subject to 2FA post-check
	ReauthWindow    time.Duration // max age of last auth before MFA_REQUIRED
	V1AllowExecutor bool          // legacy allow used by shadow/off modes
}

// Result is the outcome of Authorize.
type Result struct {
	Decision      Decision
	Reason        Reason
	MatchedRuleID string
	PresetID      string
	PresetVersion int
	ShadowMode    bool
	RulesHash     string
	MFAEvent      MFAEvent
}

// DecisionLogEntry is the single log line emitted per evaluation.
type DecisionLogEntry struct {
	Kind       string   `json:"kind"`
	Decision   Decision `json:"decision"`
	Reason     Reason   `json:"reason"`
	UserID     string   `json:"userId,omitempty"`
	Role       Role     `json:"role,omitempty"`
	Resource   string   `json:"resource,omitempty"`
	Action     string   `json:"action,omitempty"`
	ShadowMode bool     `json:"shadowMode,omitempty"`
	RulesHash  string   `json:"rulesHash,omitempty"`
	PresetID   string   `json:"presetId,omitempty"`
	RuleID     string   `json:"ruleId,omitempty"`
	DurationMS float64  `json:"durationMs"`
}

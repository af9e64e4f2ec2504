package domain

import "time"

// EnrollRequest registers a new member
type EnrollRequest struct {
	MemberID             string `json:"member_id"`
	RankTier             string `json:"rank_tier"`
	ReligiousAffiliation string `json:"religious_affiliation"`
}

// GrantRequest awards (or deducts) points for an arbitrary activity
type GrantRequest struct {
	Amount   int    `json:"amount"`
	Activity string `json:"activity"`
}

// SubmitRequest records a member's claim of completing a curriculum item.
// When ItemID is set the remaining item fields are taken from the catalog.
type SubmitRequest struct {
	MemberID         string          `json:"member_id"`
	ItemID           string          `json:"item_id,omitempty"`
	Level            CurriculumLevel `json:"level,omitempty"`
	Category         Category        `json:"category,omitempty"`
	ItemNumber       int             `json:"item_number,omitempty"`
	ReligiousSubtype string          `json:"religious_subtype,omitempty"`
}

// VerifyRequest approves a pending submission
type VerifyRequest struct {
	VerifierID string `json:"verifier_id"`
}

// VerificationEvent is a supervisor approval delivered through Kafka
type VerificationEvent struct {
	EventID      string    `json:"event_id"`
	SubmissionID string    `json:"submission_id"`
	VerifierID   string    `json:"verifier_id"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// SessionOutcome is returned when a member opens the app
type SessionOutcome struct {
	Profile         Profile `json:"profile"`
	VitalityDecayed int     `json:"vitality_decayed"`
	BonusGranted    bool    `json:"bonus_granted"`
	StreakCount     int     `json:"streak_count"`
	LevelsGained    int     `json:"levels_gained"`
	Persisted       bool    `json:"persisted"`
}

// RechargeOutcome is the result of a manual recharge request
type RechargeOutcome struct {
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason,omitempty"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
	Vitality  int        `json:"vitality"`
	Profile   Profile    `json:"profile"`
	Persisted bool       `json:"persisted"`
}

// GrantOutcome is the result of a points grant
type GrantOutcome struct {
	Profile      Profile `json:"profile"`
	LevelsGained int     `json:"levels_gained"`
	Persisted    bool    `json:"persisted"`
}

// Package drafts is the staging area between proposing a plan and applying
// it: the Draft lifecycle, confirmation tokens and their SQLite store.
//
// Drafts move through a fixed state machine. Every transition is a
// compare-and-set on the stored status, so two concurrent callers can never
// both move the same draft.
package drafts

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/stagehand/internal/plan"
)

// DefaultTTL is how long a draft may wait for confirmation and apply.
const DefaultTTL = 30 * time.Minute

// --- Status ---

// Status is the lifecycle state of a draft.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusConfirmed Status = "confirmed"
	StatusApplied   Status = "applied"
	StatusExpired   Status = "expired"
	StatusRejected  Status = "rejected"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusProposed: {
		StatusConfirmed: true,
		StatusRejected:  true,
		StatusExpired:   true,
	},
	StatusConfirmed: {
		StatusApplied:  true,
		StatusRejected: true,
		StatusExpired:  true,
	},
	StatusApplied:  {},
	StatusExpired:  {},
	StatusRejected: {},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	return allowedTransitions[s][next]
}

// Live reports whether a draft in s can still make progress.
func (s Status) Live() bool {
	return s == StatusProposed || s == StatusConfirmed
}

// Scope records what the draft was proposed against.
type Scope struct {
	ProjectID int64        `json:"projectId,omitempty"`
	AgentID   plan.AgentID `json:"agentId,omitempty"`
}

// --- Draft ---

// Draft is a staged plan awaiting confirmation and apply.
type Draft struct {
	ID           string     `json:"draftId"`
	UserID       string     `json:"userId"`
	Plan         *plan.Plan `json:"plan"`
	PlanHash     string     `json:"planHash"`
	Status       Status     `json:"status"`
	Message      string     `json:"message"`
	Scope        Scope      `json:"scope"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
	AppliedAt    *time.Time `json:"appliedAt,omitempty"`
	RejectReason string     `json:"rejectReason,omitempty"`
}

// NewDraft stages p for userID in the proposed state.
func NewDraft(userID, message string, scope Scope, p *plan.Plan, ttl time.Duration) (*Draft, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	hash, err := plan.Hash(p)
	if err != nil {
		return nil, err
	}
	now := timeNow().UTC().Truncate(time.Millisecond)
	return &Draft{
		ID:        uuid.NewString(),
		UserID:    userID,
		Plan:      p,
		PlanHash:  hash,
		Status:    StatusProposed,
		Message:   message,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// ExpiredAt reports whether the draft's deadline has passed at now. A draft
// is usable strictly before ExpiresAt.
func (d *Draft) ExpiredAt(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// EffectiveStatus is the stored status with lazy expiry applied.
func (d *Draft) EffectiveStatus(now time.Time) Status {
	if d.Status.Live() && d.ExpiredAt(now) {
		return StatusExpired
	}
	return d.Status
}

// --- Confirmation token ---

// Token is the stored half of a confirmation token. The plaintext is shown
// to the user once and never stored.
type Token struct {
	Hash       string     `json:"-"`
	DraftID    string     `json:"draftId"`
	UserID     string     `json:"userId"`
	PlanHash   string     `json:"planHashAtConfirm"`
	StateHash  string     `json:"stateHashAtConfirm"`
	CreatedAt  time.Time  `json:"createdAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

// NewTokenSecret returns a fresh plaintext token and its storage hash.
func NewTokenSecret() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, HashToken(plain), nil
}

// HashToken returns the hex sha256 of a plaintext token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

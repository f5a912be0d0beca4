// Package admission implements the allowlist and invite-code gate a
// message must pass before a session is created for it. It resolves the
// sender's cross-channel identity, checks the allowlist, and falls back to
// invite-code redemption with a failure-cooldown state machine so a brute
// force guesser can't hammer the code indefinitely.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelai/conductor/internal/identity"
)

// MaxFailedAttempts is how many wrong invite codes a peer may submit before
// the cooldown engages.
const MaxFailedAttempts = 3

// Cooldown is how long a peer must wait after exhausting MaxFailedAttempts
// before submitting another invite code.
const Cooldown = 30 * time.Second

// Decision is the outcome of an admission check.
type Decision string

const (
	DecisionAllowed       Decision = "allowed"
	DecisionDenied        Decision = "denied"
	DecisionNeedsInvite   Decision = "needs_invite"
	DecisionCooldown      Decision = "cooldown"
	DecisionInviteInvalid Decision = "invite_invalid"
)

// Result carries an admission decision and, when relevant, the identity it
// resolved or admitted.
type Result struct {
	Decision Decision
	Identity *identity.Identity
	// RetryAfter is set when Decision is DecisionCooldown.
	RetryAfter time.Duration
}

// InviteStore looks up and redeems invite codes. A redeemed code is
// consumed so it can't be reused unless AllowReuse is set for it.
type InviteStore interface {
	// Lookup returns the invite for code, or ok=false if it doesn't exist.
	Lookup(ctx context.Context, code string) (Invite, bool, error)
	// Redeem marks code as used by peerKey (channel:peer_id).
	Redeem(ctx context.Context, code, peerKey string) error
}

// Invite describes a single invite code's redemption rules.
type Invite struct {
	Code       string
	MaxUses    int
	UsedBy     []string
	AllowReuse bool
}

func (inv Invite) exhausted() bool {
	return !inv.AllowReuse && inv.MaxUses > 0 && len(inv.UsedBy) >= inv.MaxUses
}

func (inv Invite) alreadyUsedBy(peerKey string) bool {
	for _, used := range inv.UsedBy {
		if used == peerKey {
			return true
		}
	}
	return false
}

// failureState tracks one peer's invite-code failure history.
type failureState struct {
	count         int
	cooldownUntil time.Time
}

// Gate is the admission and invite flow for one deployment. Policy is
// "open" (always allow), "allowlist" (peer must already be linked to an
// identity), or "invite" (allowlist first, invite-code redemption second).
type Gate struct {
	policy   string
	identity identity.Store
	invites  InviteStore

	mu       sync.Mutex
	failures map[string]*failureState
}

// Config configures a Gate.
type Config struct {
	// Policy is "open", "allowlist", or "invite".
	Policy string
}

// NewGate wires a Gate to an identity store (for allowlist resolution) and
// an invite store (for invite-code redemption). invites may be nil when
// Policy never falls back to invite codes.
func NewGate(cfg Config, identityStore identity.Store, invites InviteStore) *Gate {
	return &Gate{
		policy:   cfg.Policy,
		identity: identityStore,
		invites:  invites,
		failures: make(map[string]*failureState),
	}
}

// Check resolves channel/peerID against the allowlist. If the policy is
// "invite" and the peer isn't yet linked to an identity, it returns
// DecisionNeedsInvite so the caller can prompt for a code rather than
// silently dropping the message.
func (g *Gate) Check(ctx context.Context, channel, peerID string) (*Result, error) {
	if g.policy == "open" {
		return &Result{Decision: DecisionAllowed}, nil
	}

	id, err := g.identity.ResolveByPeer(ctx, channel, peerID)
	if err == nil && id != nil {
		return &Result{Decision: DecisionAllowed, Identity: id}, nil
	}

	if g.policy == "allowlist" {
		return &Result{Decision: DecisionDenied}, nil
	}

	peerKey := fmt.Sprintf("%s:%s", channel, peerID)
	if until, ok := g.cooldownUntil(peerKey); ok {
		return &Result{Decision: DecisionCooldown, RetryAfter: time.Until(until)}, nil
	}
	return &Result{Decision: DecisionNeedsInvite}, nil
}

// RedeemInvite validates code for channel/peerID, links the peer to a new
// or existing identity on success, and otherwise advances the peer's
// failure-cooldown state machine.
func (g *Gate) RedeemInvite(ctx context.Context, channel, peerID, code string) (*Result, error) {
	if g.invites == nil {
		return &Result{Decision: DecisionDenied}, nil
	}

	peerKey := fmt.Sprintf("%s:%s", channel, peerID)
	if until, ok := g.cooldownUntil(peerKey); ok {
		return &Result{Decision: DecisionCooldown, RetryAfter: time.Until(until)}, nil
	}

	invite, ok, err := g.invites.Lookup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("admission: lookup invite: %w", err)
	}
	if !ok || invite.exhausted() || invite.alreadyUsedBy(peerKey) {
		g.recordFailure(peerKey)
		return &Result{Decision: DecisionInviteInvalid}, nil
	}

	if err := g.invites.Redeem(ctx, code, peerKey); err != nil {
		return nil, fmt.Errorf("admission: redeem invite: %w", err)
	}
	g.clearFailures(peerKey)

	id, err := g.identity.ResolveByPeer(ctx, channel, peerID)
	if err == nil && id != nil {
		return &Result{Decision: DecisionAllowed, Identity: id}, nil
	}

	id = &identity.Identity{
		CanonicalID: peerKey,
		LinkedPeers: []string{fmt.Sprintf("%s:%s", channel, peerID)},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := g.identity.Create(ctx, id); err != nil {
		return nil, fmt.Errorf("admission: create identity: %w", err)
	}
	return &Result{Decision: DecisionAllowed, Identity: id}, nil
}

func (g *Gate) cooldownUntil(peerKey string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.failures[peerKey]
	if !ok || state.cooldownUntil.IsZero() {
		return time.Time{}, false
	}
	if time.Now().After(state.cooldownUntil) {
		delete(g.failures, peerKey)
		return time.Time{}, false
	}
	return state.cooldownUntil, true
}

func (g *Gate) recordFailure(peerKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.failures[peerKey]
	if !ok {
		state = &failureState{}
		g.failures[peerKey] = state
	}
	state.count++
	if state.count >= MaxFailedAttempts {
		state.cooldownUntil = time.Now().Add(Cooldown)
		state.count = 0
	}
}

func (g *Gate) clearFailures(peerKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, peerKey)
}

// =============================
// File: internal/lottery/program.go
// =============================
package lottery

import (
	"github.com/gagliardetto/solana-go"
)

// DefaultRandomnessProgramID is the on-demand randomness oracle program.
var DefaultRandomnessProgramID = solana.MustPublicKeyFromBase58("SBondMDrcV3K4kxZR1HNVT7osZxAHVHgYXL5Ze1oMUv")

// Anchor discriminators: first 8 bytes of sha256("global:<instruction>").
var (
	UnlockPoolDiscriminator        = []byte{0x33, 0x13, 0xea, 0x9c, 0xff, 0xb7, 0x59, 0xfe}
	RequestRandomnessDiscriminator = []byte{0xd5, 0x05, 0xad, 0xa6, 0x25, 0xec, 0x1f, 0x12}
	RevealRandomnessDiscriminator  = []byte{0x1e, 0x82, 0x55, 0xdc, 0xd0, 0x50, 0x1c, 0xa9}
	SelectWinnerDiscriminator      = []byte{0x77, 0x42, 0x2c, 0xec, 0x4f, 0x9e, 0x52, 0x33}
	PayoutWinnerDiscriminator      = []byte{0xc0, 0xf1, 0x9d, 0x9e, 0x82, 0x96, 0x0a, 0x08}

	// sha256("account:Pool")[:8]
	PoolAccountDiscriminator = []byte{0xf1, 0x9a, 0x6d, 0x04, 0x11, 0xb1, 0x6d, 0xbc}
)

// Randomness oracle discriminators.
var (
	RandomnessInitDiscriminator   = []byte{0x09, 0x09, 0xcc, 0x21, 0x32, 0x74, 0x71, 0x0f}
	RandomnessCommitDiscriminator = []byte{0x34, 0xaa, 0x98, 0xc9, 0xb3, 0x85, 0xf2, 0x8d}
	RandomnessRevealDiscriminator = []byte{0xc5, 0xb5, 0xbb, 0x0a, 0x1e, 0x3a, 0x14, 0x49}
)

// PDA seeds
const (
	ParticipantsSeed   = "participants"
	MockRandomnessSeed = "mock-randomness"
)

// Action identifies one lifecycle instruction driven by the keeper.
type Action string

const (
	ActionUnlock            Action = "unlock"
	ActionRequestRandomness Action = "request-randomness"
	ActionRevealRandomness  Action = "reveal-randomness"
	ActionSelectWinner      Action = "select-winner"
	ActionPayout            Action = "payout"
)

// Source returns the status a pool must be in for the action to apply.
func (a Action) Source() PoolStatus {
	switch a {
	case ActionUnlock:
		return StatusLocked
	case ActionRequestRandomness:
		return StatusUnlocked
	case ActionRevealRandomness:
		return StatusRandomnessCommitted
	case ActionSelectWinner:
		return StatusRandomnessRevealed
	case ActionPayout:
		return StatusWinnerSelected
	}
	return StatusUnknown
}

// Target returns the status the action moves the pool into.
func (a Action) Target() PoolStatus {
	switch a {
	case ActionUnlock:
		return StatusUnlocked
	case ActionRequestRandomness:
		return StatusRandomnessCommitted
	case ActionRevealRandomness:
		return StatusRandomnessRevealed
	case ActionSelectWinner:
		return StatusWinnerSelected
	case ActionPayout:
		return StatusEnded
	}
	return StatusUnknown
}

func (a Action) String() string {
	return string(a)
}

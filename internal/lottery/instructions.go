// ==============================================
// File: internal/lottery/instructions.go
// ==============================================
package lottery

import (
	"github.com/gagliardetto/solana-go"
)

// PayoutAccounts are the accounts referenced by payout_winner.
type PayoutAccounts struct {
	Mint          solana.PublicKey
	Vault         solana.PublicKey
	Winner        solana.PublicKey
	WinnerToken   solana.PublicKey
	OperatorToken solana.PublicKey
	TreasuryToken solana.PublicKey
}

func discriminatorData(discriminator []byte) []byte {
	data := make([]byte, len(discriminator))
	copy(data, discriminator)
	return data
}

// BuildUnlockInstruction builds unlock_pool.
func BuildUnlockInstruction(programID, pool, operator, participants solana.PublicKey) solana.Instruction {
	// Account list must be in the exact order expected by the program
	accounts := []*solana.AccountMeta{
		{PublicKey: pool, IsSigner: false, IsWritable: true},
		{PublicKey: operator, IsSigner: true, IsWritable: true},
		{PublicKey: participants, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(programID, accounts, discriminatorData(UnlockPoolDiscriminator))
}

// BuildRequestRandomnessInstruction builds request_randomness against a committed randomness account.
func BuildRequestRandomnessInstruction(programID, pool, operator, randomness solana.PublicKey) solana.Instruction {
	accounts := []*solana.AccountMeta{
		{PublicKey: pool, IsSigner: false, IsWritable: true},
		{PublicKey: operator, IsSigner: true, IsWritable: true},
		{PublicKey: randomness, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(programID, accounts, discriminatorData(RequestRandomnessDiscriminator))
}

// BuildRevealRandomnessInstruction builds reveal_randomness.
func BuildRevealRandomnessInstruction(programID, pool, operator, randomness solana.PublicKey) solana.Instruction {
	accounts := []*solana.AccountMeta{
		{PublicKey: pool, IsSigner: false, IsWritable: true},
		{PublicKey: operator, IsSigner: true, IsWritable: true},
		{PublicKey: randomness, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(programID, accounts, discriminatorData(RevealRandomnessDiscriminator))
}

// BuildSelectWinnerInstruction builds select_winner.
func BuildSelectWinnerInstruction(programID, pool, operator, participants, randomness solana.PublicKey) solana.Instruction {
	accounts := []*solana.AccountMeta{
		{PublicKey: pool, IsSigner: false, IsWritable: true},
		{PublicKey: operator, IsSigner: true, IsWritable: true},
		{PublicKey: participants, IsSigner: false, IsWritable: false},
		{PublicKey: randomness, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(programID, accounts, discriminatorData(SelectWinnerDiscriminator))
}

// BuildPayoutInstruction builds payout_winner.
func BuildPayoutInstruction(programID, pool, operator solana.PublicKey, p PayoutAccounts) solana.Instruction {
	accounts := []*solana.AccountMeta{
		{PublicKey: pool, IsSigner: false, IsWritable: true},
		{PublicKey: operator, IsSigner: true, IsWritable: true},
		{PublicKey: p.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: p.Vault, IsSigner: false, IsWritable: true},
		{PublicKey: p.WinnerToken, IsSigner: false, IsWritable: true},
		{PublicKey: p.OperatorToken, IsSigner: false, IsWritable: true},
		{PublicKey: p.TreasuryToken, IsSigner: false, IsWritable: true},
		{PublicKey: p.Winner, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(programID, accounts, discriminatorData(PayoutWinnerDiscriminator))
}

// =============================
// File: internal/lottery/state.go
// =============================
package lottery

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrAccountNotFound возвращается, когда аккаунт пула еще не виден в блокчейне
	ErrAccountNotFound = errors.New("pool account not found")

	// ErrInvalidAccount возвращается, когда данные аккаунта не удалось разобрать
	ErrInvalidAccount = errors.New("pool account data is not a pool")
)

// PoolState is the decoded on-chain pool account.
type PoolState struct {
	Address solana.PublicKey

	Authority        solana.PublicKey
	Mint             solana.PublicKey
	EntryAmount      uint64
	MinParticipants  uint32
	MaxParticipants  uint32
	ParticipantCount uint32
	LockDuration     int64 // секунды
	LockStartTime    int64 // unix секунды, 0 пока пул не заполнен
	Status           PoolStatus
	StatusTag        uint8
	Randomness       *solana.PublicKey
	RandomValue      *[32]byte
	Winner           *solana.PublicKey
	TotalPot         uint64
	Bump             uint8
}

// UnlockAt returns the instant from which the pool may be unlocked.
func (p *PoolState) UnlockAt() time.Time {
	return time.Unix(p.LockStartTime+p.LockDuration, 0)
}

// IsRevealed reports whether the randomness value has been written.
func (p *PoolState) IsRevealed() bool {
	return p.RandomValue != nil
}

// DecodePoolState разбирает данные аккаунта пула (Borsh).
func DecodePoolState(address solana.PublicKey, data []byte) (*PoolState, error) {
	// Шаг 1: Проверка минимальной длины и дискриминатора
	if len(data) < len(PoolAccountDiscriminator) {
		return nil, fmt.Errorf("%w: data too short (%d bytes)", ErrInvalidAccount, len(data))
	}
	if !bytes.Equal(data[:8], PoolAccountDiscriminator) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidAccount)
	}

	// Шаг 2: Десериализация полей
	state := &PoolState{Address: address}
	if err := bin.NewBorshDecoder(data[8:]).Decode(state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return state, nil
}

// EncodePoolState сериализует состояние вместе с дискриминатором.
func EncodePoolState(state *PoolState) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(PoolAccountDiscriminator)
	if err := bin.NewBorshEncoder(buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PoolState) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if p.Authority, err = readPublicKey(dec); err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	if p.Mint, err = readPublicKey(dec); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	if p.EntryAmount, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("entry_amount: %w", err)
	}
	if p.MinParticipants, err = dec.ReadUint32(bin.LE); err != nil {
		return fmt.Errorf("min_participants: %w", err)
	}
	if p.MaxParticipants, err = dec.ReadUint32(bin.LE); err != nil {
		return fmt.Errorf("max_participants: %w", err)
	}
	if p.ParticipantCount, err = dec.ReadUint32(bin.LE); err != nil {
		return fmt.Errorf("participant_count: %w", err)
	}
	if p.LockDuration, err = dec.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("lock_duration: %w", err)
	}
	if p.LockStartTime, err = dec.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("lock_start_time: %w", err)
	}
	if p.StatusTag, err = dec.ReadUint8(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	p.Status = statusFromTag(p.StatusTag)

	if p.Randomness, err = readOptionalPublicKey(dec); err != nil {
		return fmt.Errorf("randomness: %w", err)
	}

	present, err := readOptionTag(dec)
	if err != nil {
		return fmt.Errorf("random_value: %w", err)
	}
	if present {
		raw, err := dec.ReadNBytes(32)
		if err != nil {
			return fmt.Errorf("random_value: %w", err)
		}
		var v [32]byte
		copy(v[:], raw)
		p.RandomValue = &v
	}

	if p.Winner, err = readOptionalPublicKey(dec); err != nil {
		return fmt.Errorf("winner: %w", err)
	}
	if p.TotalPot, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("total_pot: %w", err)
	}
	if p.Bump, err = dec.ReadUint8(); err != nil {
		return fmt.Errorf("bump: %w", err)
	}
	return nil
}

func (p PoolState) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(p.Authority[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(p.Mint[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.EntryAmount, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(p.MinParticipants, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(p.MaxParticipants, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(p.ParticipantCount, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(p.LockDuration, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(p.LockStartTime, bin.LE); err != nil {
		return err
	}
	tag := p.StatusTag
	if p.Status.IsKnown() {
		tag = uint8(p.Status)
	}
	if err := enc.WriteUint8(tag); err != nil {
		return err
	}
	if err := writeOptionalPublicKey(enc, p.Randomness); err != nil {
		return err
	}
	if p.RandomValue == nil {
		if err := enc.WriteUint8(0); err != nil {
			return err
		}
	} else {
		if err := enc.WriteUint8(1); err != nil {
			return err
		}
		if err := enc.WriteBytes(p.RandomValue[:], false); err != nil {
			return err
		}
	}
	if err := writeOptionalPublicKey(enc, p.Winner); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.TotalPot, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint8(p.Bump)
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}

func readOptionTag(dec *bin.Decoder) (bool, error) {
	tag, err := dec.ReadUint8()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid option tag %d", tag)
}

func readOptionalPublicKey(dec *bin.Decoder) (*solana.PublicKey, error) {
	present, err := readOptionTag(dec)
	if err != nil || !present {
		return nil, err
	}
	pk, err := readPublicKey(dec)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}

func writeOptionalPublicKey(enc *bin.Encoder, pk *solana.PublicKey) error {
	if pk == nil {
		return enc.WriteUint8(0)
	}
	if err := enc.WriteUint8(1); err != nil {
		return err
	}
	return enc.WriteBytes(pk[:], false)
}

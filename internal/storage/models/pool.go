// internal/storage/models/pool.go
package models

import (
	"time"
)

// Статусы зеркала совпадают с именами статусов пула в блокчейне.
const (
	StatusEnded     = "Ended"
	StatusCancelled = "Cancelled"
)

// Pool is the mirrored, query-friendly copy of a pool account.
type Pool struct {
	BaseModel
	Address         string     `gorm:"uniqueIndex;not null;type:varchar(44)" json:"address"`
	Mint            string     `gorm:"not null;type:varchar(44)" json:"mint"`
	EntryAmount     uint64     `gorm:"not null" json:"entry_amount"`
	MinParticipants uint32     `json:"min_participants"`
	MaxParticipants uint32     `json:"max_participants"`
	LockDuration    int64      `gorm:"not null" json:"lock_duration"`
	LockStartTime   int64      `json:"lock_start_time"`
	Status          string     `gorm:"index;not null;type:varchar(32)" json:"status"`
	Randomness      string     `gorm:"type:varchar(44)" json:"randomness,omitempty"`
	Winner          string     `gorm:"type:varchar(44)" json:"winner,omitempty"`
	TotalPot        uint64     `json:"total_pot"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// IsActive reports whether the orchestrator still lists the pool.
func (p *Pool) IsActive() bool {
	return p.Status != StatusEnded && p.Status != StatusCancelled
}

// internal/storage/models/economics.go
package models

// PoolEconomics is the operator fee cost of one action over a pool's lifecycle.
type PoolEconomics struct {
	BaseModel
	PoolID   uint   `gorm:"uniqueIndex:idx_pool_action;not null" json:"pool_id"`
	Action   string `gorm:"uniqueIndex:idx_pool_action;not null;type:varchar(32)" json:"action"`
	Attempts int    `gorm:"default:0" json:"attempts"`
	Failures int    `gorm:"default:0" json:"failures"`
	Lamports int64  `gorm:"default:0" json:"lamports"`
}

// RewardAllocation is a reward credited from a finished pool's reward share.
type RewardAllocation struct {
	BaseModel
	PoolID    uint   `gorm:"uniqueIndex:idx_pool_recipient_kind;not null" json:"pool_id"`
	Recipient string `gorm:"uniqueIndex:idx_pool_recipient_kind;not null;type:varchar(44)" json:"recipient"`
	Kind      string `gorm:"uniqueIndex:idx_pool_recipient_kind;not null;type:varchar(32)" json:"kind"`
	Amount    uint64 `gorm:"not null" json:"amount"`
}

package database

import "time"

// LimitOverride replaces the default caps for one (model, user) pair.
// Zero-valued fields keep the configured default for that window.
type LimitOverride struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement"`
	ModelID               string    `gorm:"not null;uniqueIndex:idx_model_user"`
	UserID                string    `gorm:"not null;uniqueIndex:idx_model_user"`
	MaxTokensPerMinute    int64     `gorm:"not null;default:0"`
	MaxTokensPerHour      int64     `gorm:"not null;default:0"`
	MaxTokensPerDay       int64     `gorm:"not null;default:0"`
	MaxConcurrentRequests int64     `gorm:"not null;default:0"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

// UsageRecord is the reporting trail of reconciled requests. Admission and
// accounting never read it; the store counters are the source of truth.
type UsageRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	ModelID         string    `gorm:"not null;index"`
	UserID          string    `gorm:"not null;index"`
	RequestID       string    `gorm:"not null"`
	EstimatedTokens int64     `gorm:"not null;default:0"`
	ActualTokens    int64     `gorm:"not null;default:0"`
	StatusCode      int       `gorm:"not null;default:0"`
	DurationMs      int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
}

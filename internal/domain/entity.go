package domain

import (
	"time"
)

// CrankRecord is the durable trail of one crank attempt. The in-memory
// counters are advisory; these rows are what operators query after the fact.
type CrankRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Market    string    `gorm:"index" json:"market"`
	Signature string    `json:"signature"`
	Success   bool      `gorm:"index" json:"success"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceRecord is one on-chain price push that succeeded.
type PriceRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Market    string    `gorm:"index" json:"market"`
	PriceE6   int64     `json:"price_e6"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

// Wallet references key material held by the custody vault. EncryptedKey is
// an AES-GCM wrapped hex private key; only internal/custody can open it.
type Wallet struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	UserID string `gorm:"type:varchar(36);not null;index"`

	Address      string `gorm:"type:varchar(42);not null;uniqueIndex"`
	EncryptedKey string `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Wallet) TableName() string {
	return "wallets"
}

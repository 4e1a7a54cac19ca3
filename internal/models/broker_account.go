package models

import "time"

const (
	ActiveStatusActive   = "active"
	ActiveStatusInactive = "inactive"
)

// BrokerAccount is the authenticated submitter of raw signals.
type BrokerAccount struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement"`
	UserID       uint64  `gorm:"not null;index:idx_broker_accounts_user_active,priority:1"`
	AccountName  string  `gorm:"type:varchar(100)"`
	AccountID    *string `gorm:"type:varchar(100);uniqueIndex"`
	APIKeyHash   string  `gorm:"column:api_key_hash;type:varchar(255);not null;uniqueIndex"`
	ActiveStatus string  `gorm:"type:varchar(10);not null;default:'active';index:idx_broker_accounts_user_active,priority:2"`

	User *User `gorm:"foreignKey:UserID;references:ID"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (BrokerAccount) TableName() string {
	return "broker_accounts"
}

func (a BrokerAccount) Active() bool {
	return a.ActiveStatus == ActiveStatusActive
}

// ExternalID is the account id exposed to subscribers, falling back to the row id.
func (a BrokerAccount) ExternalID() string {
	if a.AccountID != nil && *a.AccountID != "" {
		return *a.AccountID
	}
	return uintString(a.ID)
}

package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credential is the api key of one external provider.
type Credential struct {
	Provider  string    `gorm:"primaryKey;type:varchar(32)"`
	Token     string    `gorm:"type:varchar(255)"`
	Valid     bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time
}

func (Credential) TableName() string {
	return "credential"
}

func GetCredential(db *gorm.DB, provider string) (*Credential, error) {
	var c Credential
	if err := db.First(&c, "provider = ?", provider).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCredential stores token as the valid key of provider.
func UpsertCredential(db *gorm.DB, provider, token string) error {
	c := Credential{Provider: provider, Token: token, Valid: true, UpdatedAt: time.Now()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "valid", "updated_at"}),
	}).Create(&c).Error
}

func InvalidateCredential(db *gorm.DB, provider string) error {
	return db.Model(&Credential{}).
		Where("provider = ?", provider).
		Updates(map[string]interface{}{"valid": false, "updated_at": time.Now()}).Error
}

package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AssetTypeVideo  = "video"
	AssetTypeImage  = "image"
	AssetTypeScript = "script"
)

// Asset is a finished generation shown in the studio.
type Asset struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TaskID      string    `gorm:"type:varchar(64);index" json:"taskId"`
	Type        string    `gorm:"type:varchar(16)" json:"type"`
	URL         string    `gorm:"type:longtext" json:"url,omitempty"`
	ObjectKey   string    `gorm:"type:varchar(255)" json:"objectKey,omitempty"`
	ContentType string    `gorm:"type:varchar(64)" json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Text        string    `gorm:"type:longtext" json:"text,omitempty"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	CreatedAt   time.Time `gorm:"index" json:"timestamp"`
}

func (Asset) TableName() string {
	return "asset"
}

func CreateAsset(db *gorm.DB, a *Asset) error {
	return db.Create(a).Error
}

func GetAssetByID(db *gorm.DB, id string) (*Asset, error) {
	var a Asset
	if err := db.First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssets returns the newest assets first.
func ListAssets(db *gorm.DB, limit int) ([]Asset, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var assets []Asset
	err := db.Order("created_at DESC").Limit(limit).Find(&assets).Error
	return assets, err
}

package store

import (
	"time"

	"gorm.io/datatypes"
)

// ConversationModel is the GORM model for one stored conversation.
type ConversationModel struct {
	UserID         string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"primaryKey"`
	Title          string         `gorm:"not null"`
	Messages       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null;index"`
}

func (ConversationModel) TableName() string { return "conversations" }

func recordToModel(rec Record) ConversationModel {
	return ConversationModel{
		UserID:         rec.UserID,
		ConversationID: rec.ConversationID,
		Title:          rec.Title,
		Messages:       datatypes.JSON(rec.Messages),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func recordFromModel(m ConversationModel) Record {
	return Record{
		UserID:         m.UserID,
		ConversationID: m.ConversationID,
		Title:          m.Title,
		Messages:       []byte(m.Messages),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

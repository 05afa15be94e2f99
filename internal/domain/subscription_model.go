package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Subscription struct {
	ID      string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Remarks string     `json:"remarks"`
	URL     string     `gorm:"uniqueIndex;not null" json:"url"`
	Enabled bool       `json:"enabled"`
	Tags    StringList `gorm:"type:text" json:"tags"`

	LastFormat    string     `json:"lastFormat,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	NodeCount     int        `json:"nodeCount"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`

	Nodes []Node `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// BeforeCreate assigns a random id and trims the user supplied fields.
func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.URL = strings.TrimSpace(s.URL)
	s.Remarks = strings.TrimSpace(s.Remarks)
	return nil
}

// Healthy reports whether the last refresh succeeded.
func (s Subscription) Healthy() bool {
	return s.LastUpdatedAt != nil && s.LastError == ""
}

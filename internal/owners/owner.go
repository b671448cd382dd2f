package owners

import (
	"strings"
	"time"
)

// Owner captures the mapping between a canonical owner id and the
// provider-scoped subject the identity layer verified.
type Owner struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OwnerID    string    `gorm:"column:owner_id;size:190;not null;index"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing owner identities.
func (Owner) TableName() string {
	return "owner_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

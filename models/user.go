package models

import "time"

// User is the minimal projection the migration service needs: resolving a
// session token to a tenant. Credential management lives in the core
// platform service.
type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Username   string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	BusinessId string    `gorm:"index;size:36;not null" json:"business_id"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

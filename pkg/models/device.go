package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is one client installation. DeviceID is stable per installation
// and chosen by the client; the (device_id, user_id) pair is unique, and a
// device id already bound to a different user is rejected at registration.
type Device struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DeviceID     string     `json:"device_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_device_user"`
	UserID       string     `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_device_user;index"`
	Name         string     `json:"name" gorm:"type:varchar(100);not null"`
	Type         string     `json:"type" gorm:"type:varchar(30)"` // "desktop", "mobile", "tablet", "scanner"
	Platform     string     `json:"platform" gorm:"type:varchar(50)"`
	FCMToken     *string    `json:"fcm_token,omitempty" gorm:"type:varchar(255)"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastPulledTs int64      `json:"last_pulled_ts" gorm:"not null;default:0"` // origin timestamp of the newest delivered entry, ms epoch
	IsActive     bool       `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

// RegisterDeviceRequest is the body of POST /v1/sync/devices/register.
type RegisterDeviceRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Type     string `json:"type" validate:"required,oneof=desktop mobile tablet scanner"`
	Platform string `json:"platform" validate:"max=50"`
}

// UpdateDeviceRequest is a partial update; nil fields are left untouched.
type UpdateDeviceRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Type     *string `json:"type,omitempty" validate:"omitempty,oneof=desktop mobile tablet scanner"`
	Platform *string `json:"platform,omitempty" validate:"omitempty,max=50"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// RegisterFCMTokenRequest binds a push token to a device for sync nudges.
type RegisterFCMTokenRequest struct {
	Token string `json:"token" validate:"required,max=255"`
}

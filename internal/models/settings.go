package models

import "time"

// SystemSetting is a branding key/value pair.
type SystemSetting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// UpdateSettingRequest changes one setting.
type UpdateSettingRequest struct {
	Value string `json:"value" validate:"max=2048"`
}

package dto

// SettingItem is one key/value pair in a bulk update.
type SettingItem struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"max=2048"`
}

// BulkUpdateSettingsRequest updates several branding settings at once.
type BulkUpdateSettingsRequest struct {
	Items []SettingItem `json:"items" validate:"required,min=1,dive"`
}

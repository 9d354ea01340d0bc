// pkg/models/sync_config.go
package models

// SyncConfig is a small KV table for service bookkeeping (last retention
// run, last digest send). Never device-visible state.
type SyncConfig struct {
	Key   string `json:"key" gorm:"primaryKey;type:varchar(255)"`
	Value string `json:"value" gorm:"type:text"`
}

// TableName specifies the table name for SyncConfig
func (SyncConfig) TableName() string {
	return "sync_configs"
}

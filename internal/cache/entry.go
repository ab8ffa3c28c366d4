package cache

// Entry is one cached value: a whole collection or the session slot, stored as JSON.
type Entry struct {
	Key              string `gorm:"column:cache_key;primaryKey;size:64"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	PayloadBytes     int64  `gorm:"column:payload_bytes;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName implements gorm's tabler.
func (Entry) TableName() string {
	return "cache_entries"
}

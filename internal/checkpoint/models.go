// Package checkpoint persists a room's compressor progress across runs:
// the level ladder state (so the odometer picks up where it left off) and
// the highest state group already folded into a chunk boundary, plus a
// cross-room watermark so the scheduler doesn't re-scan rooms it already
// knows are caught up.
package checkpoint

// PerRoomLevel mirrors one row of state_compressor_state: one ladder level
// for one room. CurrentHead is nil for an empty level.
type PerRoomLevel struct {
	RoomID        string `gorm:"column:room_id;primaryKey;type:varchar(255)"`
	LevelNum      int    `gorm:"column:level_num;primaryKey"`
	MaxSize       int    `gorm:"column:max_size"`
	CurrentLength int    `gorm:"column:current_length"`
	CurrentHead   *int64 `gorm:"column:current_head"`
}

// TableName returns the table name for PerRoomLevel.
func (PerRoomLevel) TableName() string {
	return "state_compressor_state"
}

// PerRoomProgress mirrors state_compressor_progress: where a room's
// compaction left off.
type PerRoomProgress struct {
	RoomID         string `gorm:"column:room_id;primaryKey;type:varchar(255)"`
	LastCompressed int64  `gorm:"column:last_compressed"`
}

// TableName returns the table name for PerRoomProgress.
func (PerRoomProgress) TableName() string {
	return "state_compressor_progress"
}

// GlobalWatermark mirrors state_compressor_total_progress: a single row
// recording the lowest state group id not yet known to be fully compressed,
// so NextRoom can resume its room scan instead of restarting from zero.
type GlobalWatermark struct {
	Lock                    string `gorm:"column:lock;primaryKey;type:char(1)"`
	LowestUncompressedGroup int64  `gorm:"column:lowest_uncompressed_group"`
}

// TableName returns the table name for GlobalWatermark.
func (GlobalWatermark) TableName() string {
	return "state_compressor_total_progress"
}

package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roomstate/compactor/internal/compact"
	"github.com/roomstate/compactor/pkg/cerrors"
)

const watermarkLockValue = "X"

// Store persists and restores per-room ladder state via GORM, and tracks a
// single global watermark used to resume the room scan across scheduler
// restarts.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already-connected *gorm.DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateTablesIfNeeded migrates the three checkpoint tables and seeds the
// single watermark row if it doesn't already exist.
func (s *Store) CreateTablesIfNeeded(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&PerRoomLevel{}, &PerRoomProgress{}, &GlobalWatermark{}); err != nil {
		return cerrors.Wrap(cerrors.CodeCheckpointError, "migrate checkpoint tables", err)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&GlobalWatermark{Lock: watermarkLockValue, LowestUncompressedGroup: 0}).Error
	if err != nil {
		return cerrors.Wrap(cerrors.CodeCheckpointError, "seed global watermark", err)
	}
	return nil
}

// Read loads a room's saved ladder and progress. Returns (nil, 0, false, nil)
// if the room has no saved state yet. Panics-in-Rust-equivalent corruption
// checks (duplicate level numbers, gaps, an empty head with nonzero length,
// a level overfilled past its max) are reported as errors instead, since a
// backing-store adapter is not the place to crash a long-running daemon.
func (s *Store) Read(ctx context.Context, roomID string) (compact.LevelLadder, int64, bool, error) {
	var rows []PerRoomLevel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("level_num ASC").
		Find(&rows).Error
	if err != nil {
		return nil, 0, false, cerrors.Wrap(cerrors.CodeCheckpointError, "read room levels", err)
	}
	if len(rows) == 0 {
		return nil, 0, false, nil
	}

	var progress PerRoomProgress
	err = s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, false, cerrors.New(cerrors.CodeCheckpointError,
				fmt.Sprintf("room %q has saved ladder levels but no progress row", roomID))
		}
		return nil, 0, false, cerrors.Wrap(cerrors.CodeCheckpointError, "read room progress", err)
	}

	triples := make([]compact.LevelTriple, 0, len(rows))
	prevSeen := 0
	for _, row := range rows {
		if row.LevelNum == prevSeen {
			return nil, 0, false, cerrors.New(cerrors.CodeCheckpointError,
				fmt.Sprintf("level %d occurs twice for room %q", row.LevelNum, roomID))
		}
		if row.LevelNum != prevSeen+1 {
			return nil, 0, false, cerrors.New(cerrors.CodeCheckpointError,
				fmt.Sprintf("levels between %d and %d are missing for room %q", prevSeen, row.LevelNum, roomID))
		}
		if row.CurrentHead == nil && row.CurrentLength != 0 {
			return nil, 0, false, cerrors.New(cerrors.CodeCheckpointError,
				fmt.Sprintf("level %d has no head but current length %d for room %q", row.LevelNum, row.CurrentLength, roomID))
		}
		if row.CurrentLength > row.MaxSize {
			return nil, 0, false, cerrors.New(cerrors.CodeCheckpointError,
				fmt.Sprintf("level %d has length %d but max size %d for room %q", row.LevelNum, row.CurrentLength, row.MaxSize, roomID))
		}

		var head *compact.StateGroupID
		if row.CurrentHead != nil {
			h := compact.StateGroupID(*row.CurrentHead)
			head = &h
		}
		triples = append(triples, compact.LevelTriple{
			MaxLength:     row.MaxSize,
			CurrentLength: row.CurrentLength,
			Head:          head,
		})
		prevSeen = row.LevelNum
	}

	return compact.RestoreLadder(triples), progress.LastCompressed, true, nil
}

// Write persists a room's ladder and its last-compressed boundary as one
// transaction: any reader either sees the whole previous checkpoint or the
// whole new one, never a half-updated ladder.
func (s *Store) Write(ctx context.Context, roomID string, ladder compact.LevelLadder, lastCompressed int64) error {
	triples := ladder.Triples()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, tr := range triples {
			var head *int64
			if tr.Head != nil {
				h := int64(*tr.Head)
				head = &h
			}
			row := PerRoomLevel{
				RoomID:        roomID,
				LevelNum:      i + 1,
				MaxSize:       tr.MaxLength,
				CurrentLength: tr.CurrentLength,
				CurrentHead:   head,
			}

			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "room_id"}, {Name: "level_num"}},
				DoUpdates: clause.AssignmentColumns([]string{"max_size", "current_length", "current_head"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("upsert level %d: %w", i+1, err)
			}
		}

		progress := PerRoomProgress{RoomID: roomID, LastCompressed: lastCompressed}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_compressed"}),
		}).Create(&progress).Error
		if err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}

		return nil
	})
}

// NextRoom returns the room with the lowest state group id not yet folded
// into that room's last-compressed boundary, advancing the global watermark
// so the next call doesn't re-scan rooms already known to be caught up.
// Returns ("", 0, false, nil) once every room is current as of this scan.
//
// The state_groups table is queried directly since it belongs to the host
// application's schema, not to this package's own tables.
func (s *Store) NextRoom(ctx context.Context) (string, int64, bool, error) {
	var roomID string
	var groupID int64
	var found bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := tx.Raw(`
			SELECT sg.room_id, sg.id
			FROM state_groups sg
			LEFT JOIN state_compressor_progress p ON p.room_id = sg.room_id
			WHERE sg.id >= (SELECT lowest_uncompressed_group FROM state_compressor_total_progress WHERE "lock" = ?)
			  AND (p.last_compressed IS NULL OR sg.id > p.last_compressed)
			ORDER BY sg.id ASC
			LIMIT 1
		`, watermarkLockValue).Row()

		if err := row.Scan(&roomID, &groupID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true

		return tx.Model(&GlobalWatermark{}).
			Where(`"lock" = ?`, watermarkLockValue).
			Update("lowest_uncompressed_group", groupID).Error
	})
	if err != nil {
		return "", 0, false, cerrors.Wrap(cerrors.CodeCheckpointError, "find next room", err)
	}
	if !found {
		return "", 0, false, nil
	}
	return roomID, groupID, true, nil
}

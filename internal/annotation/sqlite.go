package annotation

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// record is the gorm row for an annotation.
type record struct {
	ID        string  `gorm:"primaryKey"`
	VideoID   string  `gorm:"not null;index"`
	TimeMs    uint64  `gorm:"not null;index"`
	Text      string  `gorm:"not null"`
	X         float32 `gorm:"not null"`
	Y         float32 `gorm:"not null"`
	CreatorID string
	Scale     float32   `gorm:"not null;default:1"`
	Alive     bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (record) TableName() string {
	return "annotations"
}

func toRecord(a Annotation) record {
	return record{
		ID:        a.ID,
		VideoID:   a.VideoID,
		TimeMs:    a.TimeMs,
		Text:      a.Text,
		X:         a.X,
		Y:         a.Y,
		CreatorID: a.CreatorID,
		Scale:     a.Scale,
		Alive:     a.Alive,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (r record) annotation() Annotation {
	return Annotation{
		ID:        r.ID,
		VideoID:   r.VideoID,
		TimeMs:    r.TimeMs,
		Text:      r.Text,
		X:         r.X,
		Y:         r.Y,
		CreatorID: r.CreatorID,
		Scale:     r.Scale,
		Alive:     r.Alive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// SQLiteStore keeps annotations in a SQLite database through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening annotation database: %w", err)
	}
	// SQLite serializes writers anyway, and ":memory:" databases are per
	// connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening annotation database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrating annotation database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(videoID string) ([]Annotation, error) {
	if videoID == "" {
		return nil, ErrInvalidVideoID
	}
	var rows []record
	if err := s.db.Where("video_id = ?", videoID).Order("time_ms, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	list := make([]Annotation, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.annotation())
	}
	return list, nil
}

func (s *SQLiteStore) Save(a Annotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r := toRecord(a)
	if err := s.db.Save(&r).Error; err != nil {
		return fmt.Errorf("failed to persist annotation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(videoID, id string) error {
	res := s.db.Where("video_id = ? AND id = ?", videoID, id).Delete(&record{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete annotation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil && !errors.Is(err, gorm.ErrInvalidDB) {
		return err
	}
	return nil
}

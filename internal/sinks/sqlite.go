package sinks

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tidelock/bittern/internal/event"
)

// SQLite records the event stream in a relational schema: one row per
// session plus child tables for credentials, input, artifacts and
// terminal captures.
type SQLite struct {
	path string
	db   *gorm.DB
}

type sessionRow struct {
	ID        string `gorm:"primaryKey;size:32"`
	StartTime time.Time
	EndTime   *time.Time
	Sensor    string
	IP        string
	Protocol  string
	TermSize  string
	Client    string
}

func (sessionRow) TableName() string { return "sessions" }

type authRow struct {
	ID        uint   `gorm:"primaryKey"`
	Session   string `gorm:"index;size:32"`
	Success   bool
	Username  string
	Password  string
	Timestamp time.Time
}

func (authRow) TableName() string { return "auth" }

type inputRow struct {
	ID        uint   `gorm:"primaryKey"`
	Session   string `gorm:"index;size:32"`
	Timestamp time.Time
	Success   bool
	Input     string
}

func (inputRow) TableName() string { return "input" }

type downloadRow struct {
	ID        uint   `gorm:"primaryKey"`
	Session   string `gorm:"index;size:32"`
	Timestamp time.Time
	URL       string
	Outfile   string
	Shasum    string `gorm:"index"`
}

func (downloadRow) TableName() string { return "downloads" }

type ttylogRow struct {
	ID      uint   `gorm:"primaryKey"`
	Session string `gorm:"index;size:32"`
	Path    string
	Size    int64
	Shasum  string
}

func (ttylogRow) TableName() string { return "ttylog" }

type paramRow struct {
	ID      uint   `gorm:"primaryKey"`
	Session string `gorm:"index;size:32"`
	Arch    string
}

func (paramRow) TableName() string { return "params" }

type fingerprintRow struct {
	ID          uint   `gorm:"primaryKey"`
	Session     string `gorm:"index;size:32"`
	Username    string
	Fingerprint string
}

func (fingerprintRow) TableName() string { return "keyfingerprints" }

// NewSQLite creates the sink; the database opens at Start.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Start() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.AutoMigrate(
		&sessionRow{}, &authRow{}, &inputRow{}, &downloadRow{},
		&ttylogRow{}, &paramRow{}, &fingerprintRow{},
	); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLite) Write(e event.Event) error {
	switch e.ID {
	case event.SessionConnect:
		return s.db.Create(&sessionRow{
			ID:        e.Session,
			StartTime: e.Time,
			Sensor:    e.String("sensor"),
			IP:        e.String("src_ip"),
			Protocol:  e.String("protocol"),
		}).Error
	case event.SessionClosed:
		end := e.Time
		return s.db.Model(&sessionRow{}).Where("id = ?", e.Session).
			Update("end_time", &end).Error
	case event.ClientVersion:
		return s.db.Model(&sessionRow{}).Where("id = ?", e.Session).
			Update("client", e.String("version")).Error
	case event.ClientSize:
		size := fmt.Sprintf("%dx%d", e.Int("width"), e.Int("height"))
		return s.db.Model(&sessionRow{}).Where("id = ?", e.Session).
			Update("term_size", size).Error
	case event.LoginSuccess, event.LoginFailed:
		return s.db.Create(&authRow{
			Session:   e.Session,
			Success:   e.ID == event.LoginSuccess,
			Username:  e.String("username"),
			Password:  e.String("password"),
			Timestamp: e.Time,
		}).Error
	case event.CommandInput, event.CommandFailed:
		return s.db.Create(&inputRow{
			Session:   e.Session,
			Timestamp: e.Time,
			Success:   e.ID == event.CommandInput,
			Input:     e.String("input"),
		}).Error
	case event.FileDownload, event.FileUpload:
		url := e.String("url")
		if url == "" {
			url = e.String("filename")
		}
		return s.db.Create(&downloadRow{
			Session:   e.Session,
			Timestamp: e.Time,
			URL:       url,
			Outfile:   e.String("outfile"),
			Shasum:    e.String("shasum"),
		}).Error
	case event.LogClosed:
		return s.db.Create(&ttylogRow{
			Session: e.Session,
			Path:    e.String("ttylog"),
			Size:    int64(e.Int("size")),
			Shasum:  e.String("shasum"),
		}).Error
	case event.SessionParams:
		return s.db.Create(&paramRow{
			Session: e.Session,
			Arch:    e.String("arch"),
		}).Error
	case event.ClientFingerprint:
		return s.db.Create(&fingerprintRow{
			Session:     e.Session,
			Username:    e.String("username"),
			Fingerprint: e.String("fingerprint"),
		}).Error
	}
	return nil
}

func (s *SQLite) Stop() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

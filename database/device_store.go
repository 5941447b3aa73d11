package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DeviceStore persists the bridge's single WhatsApp device.
type DeviceStore struct {
	Container *sqlstore.Container
}

// ParseDatabaseURL maps a store URL to a sqlstore dialect and DSN.
// postgres:// and postgresql:// select lib/pq, everything else is a sqlite3 DSN.
func ParseDatabaseURL(dbURL string) (dialect, dsn string) {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "postgres", dbURL
	case strings.HasPrefix(dbURL, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(dbURL, "sqlite3://")
	default:
		return "sqlite3", dbURL
	}
}

// sqliteDir returns the directory a sqlite DSN lives in, or "" for in-memory databases.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}

// OpenDeviceStore opens (and upgrades) the whatsmeow device database.
func OpenDeviceStore(ctx context.Context, dbURL string, log waLog.Logger) (*DeviceStore, error) {
	dialect, dsn := ParseDatabaseURL(dbURL)
	if dialect == "sqlite3" {
		if dir := sqliteDir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create session directory: %w", err)
			}
		}
	}

	container, err := sqlstore.New(ctx, dialect, dsn, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device store: %w", dialect, err)
	}
	return &DeviceStore{Container: container}, nil
}

// Load returns the stored device, or a fresh unpaired one when nothing is stored yet.
func (s *DeviceStore) Close() error {
	return s.Container.Close()
}

func (s *DeviceStore) Load(ctx context.Context) (*store.Device, error) {
	device, err := s.Container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

func (s *DeviceStore) Save(ctx context.Context, device *store.Device) error {
	if device == nil || device.ID == nil {
		// unpaired devices have nothing worth persisting yet
		return nil
	}
	if err := s.Container.PutDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to save device %s: %w", device.ID, err)
	}
	return nil
}

// Package storagetest opens throwaway in-memory databases for package tests.
package storagetest

import (
	"chatcore/backend/internal/models"
	"chatcore/backend/internal/storage"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewService returns a migrated storage service backed by a private in-memory
// sqlite database. A single connection serialises writers the way row locks do
// on Postgres.
func NewService(t *testing.T) *storage.Service {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	svc := storage.NewStorageService(db, Logger())
	require.NoError(t, svc.Migrate())
	return svc
}

// Logger discards output.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// PrivateRoom creates the private room of a and b.
func PrivateRoom(t *testing.T, svc *storage.Service, a, b string) *models.Room {
	t.Helper()
	room, _, err := svc.GetOrCreatePrivateRoom(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

// GroupRoom inserts a non-private room with the given participants.
func GroupRoom(t *testing.T, svc *storage.Service, participants ...string) *models.Room {
	t.Helper()
	room := &models.Room{
		Name:           "group",
		ParticipantIDs: models.ParticipantSet(participants),
		IsPrivate:      false,
	}
	for _, p := range participants {
		room.Members = append(room.Members, models.RoomMember{UserID: p})
	}
	require.NoError(t, svc.DB.Create(room).Error)
	return room
}

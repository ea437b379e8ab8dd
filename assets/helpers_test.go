package assets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"modelhub_back/config"
	"modelhub_back/database"
	"modelhub_back/events"
	"modelhub_back/storage"
)

var clockBase = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// steppingClock advances one second per reading so creation order is always observable.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

// spyFiles records every removal request before handing it to the real store. Refs in
// stuck are never removed, as if the file system refused.
type spyFiles struct {
	*storage.Uploads
	mu      sync.Mutex
	removed []string
	stuck   map[string]bool
}

func (s *spyFiles) Remove(ctx context.Context, ref string) bool {
	s.mu.Lock()
	s.removed = append(s.removed, ref)
	stuck := s.stuck[ref]
	s.mu.Unlock()
	if stuck {
		return false
	}
	return s.Uploads.Remove(ctx, ref)
}

func (s *spyFiles) removals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

type fixture struct {
	service *Service
	handle  *database.Handle
	db      *gorm.DB
	files   *spyFiles
	events  *recordingPublisher
	logger  *logrus.Logger
	logs    *test.Hook
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := &steppingClock{now: clockBase}

	handle, err := database.Open(database.Config{
		Driver:  "sqlite",
		DSN:     filepath.Join(t.TempDir(), "x.db"),
		NowFunc: clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })
	require.NoError(t, AutoMigrate(handle.DB()))

	uploads, err := storage.NewUploads(filepath.Join(t.TempDir(), "uploads"), "/uploads", logger,
		storage.WithClock(clock.Now))
	require.NoError(t, err)
	files := &spyFiles{Uploads: uploads}
	publisher := &recordingPublisher{}

	if policy == "" {
		policy = config.OrphanPolicyRetain
	}
	service, err := NewService(Options{
		DB:           handle.DB(),
		Store:        handle,
		Files:        files,
		Events:       publisher,
		OrphanPolicy: policy,
		Logger:       logger,
		Now:          clock.Now,
	})
	require.NoError(t, err)

	return &fixture{
		service: service,
		handle:  handle,
		db:      handle.DB(),
		files:   files,
		events:  publisher,
		logger:  logger,
		logs:    hook,
	}
}

// putFile places a file directly in the uploads directory and returns its reference.
func (f *fixture) putFile(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.files.Dir(), name), []byte(content), 0o644))
	return "/uploads/" + name
}

func (f *fixture) fileExists(t *testing.T, ref string) bool {
	t.Helper()
	path, ok := f.files.Resolve(ref)
	require.True(t, ok, ref)
	_, err := os.Stat(path)
	return err == nil
}

func (f *fixture) createModel(t *testing.T, in ModelInput) *Model {
	t.Helper()
	model, err := f.service.CreateModel(context.Background(), in)
	require.NoError(t, err)
	return model
}

func (f *fixture) createMaterial(t *testing.T, in MaterialInput) *Material {
	t.Helper()
	material, err := f.service.CreateMaterial(context.Background(), in)
	require.NoError(t, err)
	return material
}

func strPtr(s string) *string { return &s }

package assets

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"modelhub_back/config"
	"modelhub_back/events"
	"modelhub_back/metrics"
	"modelhub_back/storage"
)

const pingTimeout = 2 * time.Second

// FileStore is the uploads directory as seen by the service. Remove is best-effort: it
// only reports whether the file is gone, and cleanup problems are logged by the store.
type FileStore interface {
	Save(ctx context.Context, originalName string, src io.Reader) (storage.StoredFile, error)
	Remove(ctx context.Context, ref string) bool
	List(ctx context.Context) ([]storage.StoredEntry, error)
}

// Pinger checks that the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher receives a notification after every successful write.
type Publisher interface {
	Publish(events.Event)
}

type Options struct {
	DB           *gorm.DB
	Store        Pinger
	Files        FileStore
	Events       Publisher
	Redis        *redis.Client
	OrphanPolicy string
	Logger       *logrus.Logger
	Now          func() time.Time
}

// Service orchestrates repositories and the file store so that records and their files
// stay consistent, and reports every failure as a *Failure.
type Service struct {
	db        *gorm.DB
	store     Pinger
	models    *ModelRepository
	materials *MaterialRepository
	files     FileStore
	events    Publisher
	cache     *listCache
	policy    string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, errors.New("assets: database handle is required")
	}
	if opts.Files == nil {
		return nil, errors.New("assets: file store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := strings.ToLower(strings.TrimSpace(opts.OrphanPolicy))
	if policy == "" {
		policy = config.OrphanPolicyRetain
	}
	if policy != config.OrphanPolicyRetain && policy != config.OrphanPolicyCascade {
		return nil, errors.New("assets: unknown orphan policy " + strconv.Quote(opts.OrphanPolicy))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		db:        opts.DB,
		store:     opts.Store,
		models:    NewModelRepository(opts.DB),
		materials: NewMaterialRepository(opts.DB),
		files:     opts.Files,
		events:    opts.Events,
		cache:     newListCache(opts.Redis, logger),
		policy:    policy,
		logger:    logger,
		now:       now,
	}, nil
}

// Ping reports whether the record store answers within a short deadline. Without a
// configured pinger the store is assumed reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.store.Ping(pingCtx)
}

func (s *Service) ListModels(ctx context.Context) ([]Model, error) {
	var cached []Model
	if s.cache.load(ctx, modelsCacheKey, &cached) {
		return cached, nil
	}
	models, err := s.models.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.store(ctx, modelsCacheKey, models)
	return models, nil
}

func (s *Service) GetModel(ctx context.Context, rawID string) (*Model, error) {
	id, err := ParseModelID(rawID)
	if err != nil {
		return nil, err
	}
	return s.models.Get(ctx, id)
}

func (s *Service) CreateModel(ctx context.Context, in ModelInput) (*Model, error) {
	model, err := s.models.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, modelsCacheKey)
	s.publish(events.ModelCreated, "model", strconv.FormatUint(model.ID, 10), nil)
	return model, nil
}

// UpdateModel applies a sparse patch. Once the store has committed, files that the patch
// replaced are removed if no record references them any more.
func (s *Service) UpdateModel(ctx context.Context, rawID string, patch ModelPatch) (*Model, error) {
	id, err := ParseModelID(rawID)
	if err != nil {
		return nil, err
	}
	updated, previous, err := s.models.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, modelsCacheKey)

	if previous.FilePath != updated.FilePath {
		s.removeIfUnreferenced(ctx, previous.FilePath)
	}
	if previous.ThumbnailPath != nil && (updated.ThumbnailPath == nil || *updated.ThumbnailPath != *previous.ThumbnailPath) {
		s.removeIfUnreferenced(ctx, *previous.ThumbnailPath)
	}

	s.publish(events.ModelUpdated, "model", strconv.FormatUint(updated.ID, 10), nil)
	return updated, nil
}

// DeleteModel removes the Model's files and then its record. Under the cascade policy the
// child Materials and their thumbnails go with it; otherwise they are left in place.
func (s *Service) DeleteModel(ctx context.Context, rawID string) error {
	id, err := ParseModelID(rawID)
	if err != nil {
		return err
	}
	model, err := s.models.Get(ctx, id)
	if err != nil {
		return err
	}

	s.files.Remove(ctx, model.FilePath)
	if model.ThumbnailPath != nil {
		s.files.Remove(ctx, *model.ThumbnailPath)
	}

	var cascaded []Material
	if s.policy == config.OrphanPolicyCascade {
		children, err := s.materials.ListByModel(ctx, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.ThumbnailPath != nil {
				s.files.Remove(ctx, *child.ThumbnailPath)
			}
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			removed, err := NewMaterialRepository(tx).DeleteByModel(ctx, id)
			if err != nil {
				return err
			}
			cascaded = removed
			return NewModelRepository(tx).Delete(ctx, id)
		})
		if err != nil {
			return classify("delete model", msgModelNotFound, err)
		}
	} else if err := s.models.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.invalidate(ctx, modelsCacheKey, materialsCacheKey, materialsByModelKey(id))
	s.publish(events.ModelDeleted, "model", strconv.FormatUint(id, 10), nil)
	for _, child := range cascaded {
		s.publish(events.MaterialDeleted, "material", child.ID, &child.ModelID)
	}
	return nil
}

func (s *Service) ListMaterials(ctx context.Context) ([]Material, error) {
	var cached []Material
	if s.cache.load(ctx, materialsCacheKey, &cached) {
		return cached, nil
	}
	materials, err := s.materials.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.store(ctx, materialsCacheKey, materials)
	return materials, nil
}

func (s *Service) ListMaterialsByModel(ctx context.Context, rawModelID string) ([]Material, error) {
	modelID, err := ParseModelID(rawModelID)
	if err != nil {
		return nil, err
	}
	key := materialsByModelKey(modelID)
	var cached []Material
	if s.cache.load(ctx, key, &cached) {
		return cached, nil
	}
	materials, err := s.materials.ListByModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	s.cache.store(ctx, key, materials)
	return materials, nil
}

func (s *Service) CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error) {
	material, err := s.materials.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, materialsCacheKey, materialsByModelKey(material.ModelID))
	s.publish(events.MaterialCreated, "material", material.ID, &material.ModelID)
	return material, nil
}

// DeleteMaterial removes the Material's thumbnail and then its record.
func (s *Service) DeleteMaterial(ctx context.Context, id string) error {
	material, err := s.materials.Get(ctx, id)
	if err != nil {
		return err
	}
	if material.ThumbnailPath != nil {
		s.files.Remove(ctx, *material.ThumbnailPath)
	}
	if err := s.materials.Delete(ctx, material.ID); err != nil {
		return err
	}
	s.cache.invalidate(ctx, materialsCacheKey, materialsByModelKey(material.ModelID))
	s.publish(events.MaterialDeleted, "material", material.ID, &material.ModelID)
	return nil
}

// Upload stores one payload under a unique name and returns its reference. It never
// creates a record; callers attach the reference in a separate request.
func (s *Service) Upload(ctx context.Context, originalName string, src io.Reader) (storage.StoredFile, error) {
	if src == nil {
		metrics.RecordUpload(false)
		return storage.StoredFile{}, invalid("No file uploaded.")
	}
	stored, err := s.files.Save(ctx, originalName, src)
	if err != nil {
		metrics.RecordUpload(false)
		switch {
		case errors.Is(err, storage.ErrNoPayload):
			return storage.StoredFile{}, &Failure{Kind: ErrValidation, Message: "No file uploaded.", Cause: err}
		case errors.Is(err, storage.ErrTooLarge):
			return storage.StoredFile{}, &Failure{Kind: ErrValidation, Message: msgUploadTooLarge, Cause: err}
		default:
			return storage.StoredFile{}, &Failure{Kind: ErrStorage, Message: "store upload failed", Cause: err}
		}
	}
	metrics.RecordUpload(true)
	s.logger.WithFields(logrus.Fields{"ref": stored.Ref, "size": stored.Size}).Info("assets: file uploaded")
	s.publish(events.FileUploaded, "file", stored.Ref, nil)
	return stored, nil
}

// removeIfUnreferenced removes ref unless a record still points at the same stored file.
// References are compared by file name, so "uploads/a.glb" and "/uploads/a.glb" count as
// one file.
func (s *Service) removeIfUnreferenced(ctx context.Context, ref string) {
	name := referencedName(ref)
	if name == "" {
		return
	}
	modelRefs, err := s.models.PathsNamed(ctx, name)
	if err != nil {
		s.logger.WithError(err).WithField("ref", ref).Warn("assets: keeping superseded file, reference check failed")
		return
	}
	materialRefs, err := s.materials.PathsNamed(ctx, name)
	if err != nil {
		s.logger.WithError(err).WithField("ref", ref).Warn("assets: keeping superseded file, reference check failed")
		return
	}
	for _, other := range append(modelRefs, materialRefs...) {
		if referencedName(other) == name {
			s.logger.WithFields(logrus.Fields{"ref": ref, "held_as": other}).Debug("assets: superseded file still referenced")
			return
		}
	}
	s.files.Remove(ctx, ref)
}

func (s *Service) publish(kind, resource, id string, modelID *uint64) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Type:      kind,
		Resource:  resource,
		ID:        id,
		ModelID:   modelID,
		Timestamp: s.now().UTC(),
	})
}

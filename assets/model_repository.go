package assets

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// ModelRepository is CRUD over Model records.
type ModelRepository struct {
	db *gorm.DB
}

func NewModelRepository(db *gorm.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// List returns every Model, newest first.
func (r *ModelRepository) List(ctx context.Context) ([]Model, error) {
	var models []Model
	if err := r.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&models).Error; err != nil {
		return nil, classify("list models", msgModelNotFound, err)
	}
	return models, nil
}

func (r *ModelRepository) Get(ctx context.Context, id uint64) (*Model, error) {
	if id == 0 {
		return nil, invalid(msgInvalidModelID)
	}
	var model Model
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, classify("get model", msgModelNotFound, err)
	}
	return &model, nil
}

// Create validates in, derives the file type and persists the record.
func (r *ModelRepository) Create(ctx context.Context, in ModelInput) (*Model, error) {
	name := strings.TrimSpace(in.Name)
	filePath := strings.TrimSpace(in.FilePath)
	if name == "" || filePath == "" {
		return nil, invalid(msgModelFieldsRequired)
	}

	model := Model{
		Name:          name,
		FilePath:      filePath,
		FileType:      FileTypeOf(filePath),
		ThumbnailPath: optionalRef(in.ThumbnailPath),
		Size:          optionalRef(in.Size),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, classify("create model", msgModelNotFound, err)
	}
	return &model, nil
}

// Update applies patch to the Model with id and returns the stored record together with
// the state it replaced. Only fields present in patch change.
func (r *ModelRepository) Update(ctx context.Context, id uint64, patch ModelPatch) (updated, previous *Model, err error) {
	if id == 0 {
		return nil, nil, invalid(msgInvalidModelID)
	}
	columns, err := patchColumns(patch)
	if err != nil {
		return nil, nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Model
		if err := tx.First(&current, id).Error; err != nil {
			return err
		}
		before := current
		if err := tx.Model(&current).Updates(columns).Error; err != nil {
			return err
		}
		var after Model
		if err := tx.First(&after, id).Error; err != nil {
			return err
		}
		updated, previous = &after, &before
		return nil
	})
	if err != nil {
		return nil, nil, classify("update model", msgModelNotFound, err)
	}
	return updated, previous, nil
}

// Delete removes the Model with id. A missing row is reported as not found.
func (r *ModelRepository) Delete(ctx context.Context, id uint64) error {
	if id == 0 {
		return invalid(msgInvalidModelID)
	}
	result := r.db.WithContext(ctx).Delete(&Model{}, id)
	if result.Error != nil {
		return classify("delete model", msgModelNotFound, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(msgModelNotFound)
	}
	return nil
}

// ReferencedPaths returns every file reference held by a Model.
func (r *ModelRepository) ReferencedPaths(ctx context.Context) ([]string, error) {
	var rows []struct {
		FilePath      string
		ThumbnailPath *string
	}
	if err := r.db.WithContext(ctx).Model(&Model{}).Select("file_path", "thumbnail_path").Find(&rows).Error; err != nil {
		return nil, classify("collect model references", msgModelNotFound, err)
	}
	refs := make([]string, 0, len(rows)*2)
	for _, row := range rows {
		refs = append(refs, row.FilePath)
		if row.ThumbnailPath != nil {
			refs = append(refs, *row.ThumbnailPath)
		}
	}
	return refs, nil
}

// PathsNamed returns the file references held by Models whose last path segment could
// be name. The match is loose; callers compare the resolved names themselves.
func (r *ModelRepository) PathsNamed(ctx context.Context, name string) ([]string, error) {
	var rows []struct {
		FilePath      string
		ThumbnailPath *string
	}
	pattern := "%" + name
	err := r.db.WithContext(ctx).Model(&Model{}).
		Select("file_path", "thumbnail_path").
		Where("file_path LIKE ? OR thumbnail_path LIKE ?", pattern, pattern).
		Find(&rows).Error
	if err != nil {
		return nil, classify("find model references", msgModelNotFound, err)
	}
	refs := make([]string, 0, len(rows)*2)
	for _, row := range rows {
		refs = append(refs, row.FilePath)
		if row.ThumbnailPath != nil {
			refs = append(refs, *row.ThumbnailPath)
		}
	}
	return refs, nil
}

// patchColumns turns a sparse patch into the column map gorm writes. Present keys with
// nil values become NULL.
func patchColumns(patch ModelPatch) (map[string]any, error) {
	columns := make(map[string]any, len(patch)+1)
	for field, value := range patch {
		switch field {
		case FieldName:
			if value == nil || strings.TrimSpace(*value) == "" {
				return nil, invalid("name cannot be empty")
			}
			columns["name"] = strings.TrimSpace(*value)
		case FieldFilePath:
			if value == nil || strings.TrimSpace(*value) == "" {
				return nil, invalid("filePath cannot be empty")
			}
			filePath := strings.TrimSpace(*value)
			columns["file_path"] = filePath
			columns["file_type"] = FileTypeOf(filePath)
		case FieldThumbnailPath:
			columns["thumbnail_path"] = optionalRef(value)
		case FieldSize:
			columns["size"] = optionalRef(value)
		}
	}
	if len(columns) == 0 {
		return nil, invalid(msgNoUpdateData)
	}
	return columns, nil
}

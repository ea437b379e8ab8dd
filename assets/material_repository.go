package assets

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const msgMaterialCreateFailed = "Failed to add material."

// MaterialRepository is CRUD over Material records scoped to a parent Model.
type MaterialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// List returns every Material, newest first. Rows created in the same instant are
// ordered by descending id so repeated reads agree.
func (r *MaterialRepository) List(ctx context.Context) ([]Material, error) {
	var materials []Material
	if err := r.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&materials).Error; err != nil {
		return nil, classify("list materials", msgMaterialNotFound, err)
	}
	return materials, nil
}

// ListByModel returns the Materials pointing at modelID, newest first. The parent does
// not have to exist: orphaned Materials are still listed.
func (r *MaterialRepository) ListByModel(ctx context.Context, modelID uint64) ([]Material, error) {
	if modelID == 0 {
		return nil, invalid(msgInvalidModelID)
	}
	var materials []Material
	err := r.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("created_at desc").
		Order("id desc").
		Find(&materials).Error
	if err != nil {
		return nil, classify("list materials", msgMaterialNotFound, err)
	}
	return materials, nil
}

func (r *MaterialRepository) Get(ctx context.Context, id string) (*Material, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("Invalid material ID.")
	}
	var material Material
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&material).Error; err != nil {
		return nil, classify("get material", msgMaterialNotFound, err)
	}
	return &material, nil
}

// Create persists a Material after confirming, in the same transaction, that its parent
// Model exists. On server databases the parent row is share-locked until commit.
func (r *MaterialRepository) Create(ctx context.Context, in MaterialInput) (*Material, error) {
	name := strings.TrimSpace(in.Name)
	if in.ModelID == 0 || name == "" {
		return nil, invalid(msgMaterialFieldsRequired)
	}
	document, err := normalizeDocument(in.Data)
	if err != nil {
		return nil, err
	}

	material := Material{
		ModelID:       in.ModelID,
		Name:          name,
		Data:          datatypes.JSON(document),
		ThumbnailPath: optionalRef(in.ThumbnailPath),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent := tx.Model(&Model{}).Where("id = ?", in.ModelID)
		if tx.Dialector.Name() != "sqlite" {
			parent = parent.Clauses(clause.Locking{Strength: "SHARE"})
		}
		var ids []uint64
		if err := parent.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return referential(msgMaterialCreateFailed,
				fmt.Sprintf("model %d does not exist", in.ModelID), nil)
		}
		return tx.Create(&material).Error
	})
	if err != nil {
		return nil, classify("create material", msgMaterialNotFound, err)
	}
	return &material, nil
}

// Delete removes the Material with id. A missing row is reported as not found.
func (r *MaterialRepository) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return invalid("Invalid material ID.")
	}
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Material{})
	if result.Error != nil {
		return classify("delete material", msgMaterialNotFound, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(msgMaterialNotFound)
	}
	return nil
}

// DeleteByModel removes every Material of modelID and returns the removed rows.
func (r *MaterialRepository) DeleteByModel(ctx context.Context, modelID uint64) ([]Material, error) {
	var removed []Material
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("model_id = ?", modelID).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return tx.Where("model_id = ?", modelID).Delete(&Material{}).Error
	})
	if err != nil {
		return nil, classify("delete materials", msgMaterialNotFound, err)
	}
	return removed, nil
}

// ReferencedPaths returns every thumbnail reference held by a Material.
func (r *MaterialRepository) ReferencedPaths(ctx context.Context) ([]string, error) {
	var refs []string
	err := r.db.WithContext(ctx).Model(&Material{}).
		Where("thumbnail_path IS NOT NULL").
		Pluck("thumbnail_path", &refs).Error
	if err != nil {
		return nil, classify("collect material references", msgMaterialNotFound, err)
	}
	return refs, nil
}

func (r *MaterialRepository) PathsNamed(ctx context.Context, name string) ([]string, error) {
	var refs []string
	err := r.db.WithContext(ctx).Model(&Material{}).
		Where("thumbnail_path LIKE ?", "%"+name).
		Pluck("thumbnail_path", &refs).Error
	if err != nil {
		return nil, classify("find material references", msgMaterialNotFound, err)
	}
	return refs, nil
}

package assets

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelhub_back/config"
	"modelhub_back/events"
)

func TestCreateModelDerivesFileType(t *testing.T) {
	f := newFixture(t, "")

	model := f.createModel(t, ModelInput{Name: "Chair", FilePath: "x/model.GLB"})

	assert.NotZero(t, model.ID)
	assert.Equal(t, "GLB", model.FileType)
	assert.Nil(t, model.ThumbnailPath)
	assert.Nil(t, model.Size)
	assert.False(t, model.CreatedAt.IsZero())
}

func TestCreateModelRequiresNameAndFilePath(t *testing.T) {
	f := newFixture(t, "")

	for _, in := range []ModelInput{{Name: "Chair"}, {FilePath: "a.obj"}, {Name: "  ", FilePath: "a.obj"}} {
		_, err := f.service.CreateModel(context.Background(), in)
		assert.True(t, errors.Is(err, ErrValidation))
	}

	var count int64
	require.NoError(t, f.db.Model(&Model{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateFilePathOnlyRecomputesFileType(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	model := f.createModel(t, ModelInput{
		Name:          "Chair",
		FilePath:      "uploads/1.obj",
		ThumbnailPath: strPtr("/uploads/1.png"),
		Size:          strPtr("1024"),
	})

	updated, err := f.service.UpdateModel(ctx, "1", ModelPatch{}.Set(FieldFilePath, "uploads/2.fbx"))
	require.NoError(t, err)

	assert.Equal(t, model.ID, updated.ID)
	assert.Equal(t, "uploads/2.fbx", updated.FilePath)
	assert.Equal(t, "FBX", updated.FileType)
	assert.Equal(t, "Chair", updated.Name)
	require.NotNil(t, updated.ThumbnailPath)
	assert.Equal(t, "/uploads/1.png", *updated.ThumbnailPath)
	require.NotNil(t, updated.Size)
	assert.Equal(t, "1024", *updated.Size)
	assert.True(t, model.CreatedAt.Equal(updated.CreatedAt))
}

func TestUpdateAppliesExplicitNulls(t *testing.T) {
	f := newFixture(t, "")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj", ThumbnailPath: strPtr("/uploads/t.png"), Size: strPtr("9")})

	updated, err := f.service.UpdateModel(context.Background(), "1",
		ModelPatch{}.Clear(FieldThumbnailPath).Set(FieldSize, ""))
	require.NoError(t, err)
	assert.Nil(t, updated.ThumbnailPath)
	assert.Nil(t, updated.Size)

	_, err = f.service.UpdateModel(context.Background(), "1", ModelPatch{}.Clear(FieldName))
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.service.UpdateModel(context.Background(), "1", ModelPatch{}.Set(FieldFilePath, ""))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestEmptyPatchIsRejectedAndLeavesRecord(t *testing.T) {
	f := newFixture(t, "")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})

	_, err := f.service.UpdateModel(context.Background(), "1", ModelPatch{})
	require.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, msgNoUpdateData, err.Error())

	stored, err := f.service.GetModel(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Chair", stored.Name)
	assert.Equal(t, "a.obj", stored.FilePath)
}

func TestUpdateChecksIDThenPatchThenExistence(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.service.UpdateModel(ctx, "abc", ModelPatch{})
	require.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, msgInvalidModelID, err.Error())

	_, err = f.service.UpdateModel(ctx, "99", ModelPatch{})
	require.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, msgNoUpdateData, err.Error())

	_, err = f.service.UpdateModel(ctx, "99", ModelPatch{}.Set(FieldName, "x"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateRemovesSupersededFiles(t *testing.T) {
	f := newFixture(t, "")
	oldFile := f.putFile(t, "1-old.obj", "old")
	oldThumb := f.putFile(t, "1-old.png", "old")
	newFile := f.putFile(t, "2-new.obj", "new")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: oldFile, ThumbnailPath: strPtr(oldThumb)})

	_, err := f.service.UpdateModel(context.Background(), "1",
		ModelPatch{}.Set(FieldFilePath, newFile).Clear(FieldThumbnailPath))
	require.NoError(t, err)

	assert.False(t, f.fileExists(t, oldFile))
	assert.False(t, f.fileExists(t, oldThumb))
	assert.True(t, f.fileExists(t, newFile))
}

func TestUpdateKeepsSupersededFileStillReferenced(t *testing.T) {
	f := newFixture(t, "")
	shared := f.putFile(t, "1-shared.obj", "x")
	f.createModel(t, ModelInput{Name: "A", FilePath: shared})
	f.createModel(t, ModelInput{Name: "B", FilePath: shared})

	_, err := f.service.UpdateModel(context.Background(), "1", ModelPatch{}.Set(FieldFilePath, "/uploads/other.obj"))
	require.NoError(t, err)

	assert.True(t, f.fileExists(t, shared))
}

func TestUpdateKeepsFileReferencedUnderAnotherSpelling(t *testing.T) {
	f := newFixture(t, "")
	shared := f.putFile(t, "1-a.glb", "glb")
	thumb := f.putFile(t, "1-a.png", "png")
	f.createModel(t, ModelInput{Name: "A", FilePath: shared, ThumbnailPath: strPtr(thumb)})
	f.createModel(t, ModelInput{Name: "B", FilePath: "uploads/1-a.glb"})
	f.createMaterial(t, MaterialInput{ModelID: 2, Name: "Skin", ThumbnailPath: strPtr(`uploads\1-a.png`)})

	_, err := f.service.UpdateModel(context.Background(), "1",
		ModelPatch{}.Set(FieldFilePath, "/uploads/2-b.glb").Clear(FieldThumbnailPath))
	require.NoError(t, err)

	assert.True(t, f.fileExists(t, shared))
	assert.True(t, f.fileExists(t, thumb))
	assert.Empty(t, f.files.removals())
}

func TestOutOfRangeModelIDIsValidationFailure(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	const tooLarge = "9223372036854775808"

	_, err := f.service.GetModel(ctx, tooLarge)
	assert.True(t, errors.Is(err, ErrValidation), "get: %v", err)
	_, err = f.service.UpdateModel(ctx, tooLarge, ModelPatch{}.Set(FieldName, "x"))
	assert.True(t, errors.Is(err, ErrValidation), "update: %v", err)
	err = f.service.DeleteModel(ctx, tooLarge)
	assert.True(t, errors.Is(err, ErrValidation), "delete: %v", err)
	_, err = f.service.ListMaterialsByModel(ctx, tooLarge)
	assert.True(t, errors.Is(err, ErrValidation), "list: %v", err)
	_, err = DecodeMaterialInput(body(t, `{"model_id":9223372036854775808,"name":"Wood"}`))
	assert.True(t, errors.Is(err, ErrValidation), "material: %v", err)

	_, err = f.service.GetModel(ctx, "9223372036854775807")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteModelRemovesFilesThenRecord(t *testing.T) {
	f := newFixture(t, "")
	file := f.putFile(t, "1-chair.obj", "mesh")
	thumb := f.putFile(t, "1-chair.png", "png")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: file, ThumbnailPath: strPtr(thumb)})

	require.NoError(t, f.service.DeleteModel(context.Background(), "1"))

	assert.False(t, f.fileExists(t, file))
	assert.False(t, f.fileExists(t, thumb))
	_, err := f.service.GetModel(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteModelWithMissingFilesStillSucceeds(t *testing.T) {
	f := newFixture(t, "")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "/uploads/gone.obj", ThumbnailPath: strPtr("/uploads/gone.png")})

	require.NoError(t, f.service.DeleteModel(context.Background(), "1"))

	_, err := f.service.GetModel(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ElementsMatch(t, []string{"/uploads/gone.obj", "/uploads/gone.png"}, f.files.removals())
}

func TestDeleteMissingModelLeavesFilesAlone(t *testing.T) {
	f := newFixture(t, "")

	err := f.service.DeleteModel(context.Background(), "5")
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, msgModelNotFound, err.Error())
	assert.Empty(t, f.files.removals())

	err = f.service.DeleteModel(context.Background(), "x5")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCreateMaterialForUnknownModelIsReferential(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.service.CreateMaterial(context.Background(), MaterialInput{ModelID: 404, Name: "Wood"})
	require.True(t, errors.Is(err, ErrReferential))

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Details, "404")

	var count int64
	require.NoError(t, f.db.Model(&Material{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateMaterialDefaultsAndValidation(t *testing.T) {
	f := newFixture(t, "")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})

	material := f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Wood", ThumbnailPath: strPtr("")})
	assert.NotEmpty(t, material.ID)
	assert.Equal(t, uint64(1), material.ModelID)
	assert.JSONEq(t, `{}`, string(material.Data))
	assert.Nil(t, material.ThumbnailPath)

	_, err := f.service.CreateMaterial(context.Background(), MaterialInput{ModelID: 1})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.service.CreateMaterial(context.Background(), MaterialInput{Name: "Wood"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.service.CreateMaterial(context.Background(), MaterialInput{ModelID: 1, Name: "Wood", Data: json.RawMessage(`[1]`)})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDeleteMaterialRemovesThumbnail(t *testing.T) {
	f := newFixture(t, "")
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})
	thumb := f.putFile(t, "1-wood.png", "png")
	material := f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Wood", ThumbnailPath: strPtr(thumb)})

	require.NoError(t, f.service.DeleteMaterial(context.Background(), material.ID))
	assert.False(t, f.fileExists(t, thumb))

	err := f.service.DeleteMaterial(context.Background(), material.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, msgMaterialNotFound, err.Error())
}

func TestListsAreNewestFirst(t *testing.T) {
	f := newFixture(t, "")
	for _, name := range []string{"first", "second", "third"} {
		f.createModel(t, ModelInput{Name: name, FilePath: name + ".obj"})
	}
	for _, name := range []string{"m1", "m2", "m3"} {
		f.createMaterial(t, MaterialInput{ModelID: 1, Name: name})
	}
	f.createMaterial(t, MaterialInput{ModelID: 2, Name: "other"})

	models, err := f.service.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{models[0].Name, models[1].Name, models[2].Name})

	all, err := f.service.ListMaterials(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "other", all[0].Name)

	byModel, err := f.service.ListMaterialsByModel(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, byModel, 3)
	assert.Equal(t, []string{"m3", "m2", "m1"}, []string{byModel[0].Name, byModel[1].Name, byModel[2].Name})

	_, err = f.service.ListMaterialsByModel(context.Background(), "one")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestMaterialsCreatedTogetherListInStableOrder(t *testing.T) {
	f := newFixture(t, "")
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.db.Create(&Material{ModelID: 1, Name: name, CreatedAt: clockBase}).Error)
	}

	all, err := NewMaterialRepository(f.db).List(context.Background())
	require.NoError(t, err)
	byModel, err := NewMaterialRepository(f.db).ListByModel(context.Background(), 1)
	require.NoError(t, err)

	ids := make([]string, 0, len(all))
	for _, material := range all {
		ids = append(ids, material.ID)
	}
	assert.IsDecreasing(t, ids)
	require.Len(t, byModel, len(all))
	for i := range all {
		assert.Equal(t, all[i].ID, byModel[i].ID)
	}
}

func TestRetainPolicyKeepsOrphanedMaterials(t *testing.T) {
	f := newFixture(t, config.OrphanPolicyRetain)
	ctx := context.Background()

	model := f.createModel(t, ModelInput{Name: "Chair", FilePath: "uploads/1.obj"})
	assert.Equal(t, uint64(1), model.ID)
	assert.Equal(t, "OBJ", model.FileType)
	assert.Nil(t, model.ThumbnailPath)
	assert.Nil(t, model.Size)

	material := f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Wood"})
	assert.Equal(t, uint64(1), material.ModelID)
	assert.JSONEq(t, `{}`, string(material.Data))

	require.NoError(t, f.service.DeleteModel(ctx, "1"))

	_, err := f.service.GetModel(ctx, "1")
	assert.True(t, errors.Is(err, ErrNotFound))

	orphans, err := f.service.ListMaterialsByModel(ctx, "1")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, material.ID, orphans[0].ID)
}

func TestCascadePolicyDeletesChildMaterials(t *testing.T) {
	f := newFixture(t, config.OrphanPolicyCascade)
	ctx := context.Background()
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})
	f.createModel(t, ModelInput{Name: "Table", FilePath: "b.obj"})
	thumb := f.putFile(t, "1-wood.png", "png")
	f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Wood", ThumbnailPath: strPtr(thumb)})
	f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Paint"})
	keep := f.createMaterial(t, MaterialInput{ModelID: 2, Name: "Oak"})

	require.NoError(t, f.service.DeleteModel(ctx, "1"))

	children, err := f.service.ListMaterialsByModel(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.False(t, f.fileExists(t, thumb))

	remaining, err := f.service.ListMaterials(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)

	assert.Equal(t, 2, strings.Count(strings.Join(f.events.types(), ","), events.MaterialDeleted))
}

func TestWritesPublishEvents(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})
	_, err := f.service.UpdateModel(ctx, "1", ModelPatch{}.Set(FieldName, "Stool"))
	require.NoError(t, err)
	material := f.createMaterial(t, MaterialInput{ModelID: 1, Name: "Wood"})
	require.NoError(t, f.service.DeleteMaterial(ctx, material.ID))
	require.NoError(t, f.service.DeleteModel(ctx, "1"))

	assert.Equal(t, []string{
		events.ModelCreated,
		events.ModelUpdated,
		events.MaterialCreated,
		events.MaterialDeleted,
		events.ModelDeleted,
	}, f.events.types())

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.NotNil(t, f.events.events[2].ModelID)
	assert.Equal(t, uint64(1), *f.events.events[2].ModelID)
	assert.Equal(t, material.ID, f.events.events[2].ID)
}

func TestUploadStoresPayload(t *testing.T) {
	f := newFixture(t, "")

	stored, err := f.service.Upload(context.Background(), "chair.glb", strings.NewReader("glb"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.Ref, "/uploads/"))
	assert.True(t, strings.HasSuffix(stored.Ref, "-chair.glb"))
	assert.Equal(t, int64(3), stored.Size)
	assert.True(t, f.fileExists(t, stored.Ref))
	assert.Equal(t, []string{events.FileUploaded}, f.events.types())

	_, err = f.service.Upload(context.Background(), "", nil)
	require.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "No file uploaded.", err.Error())
}

func TestStoreFailureIsClassified(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.handle.Close())

	_, err := f.service.ListModels(context.Background())
	require.True(t, errors.Is(err, ErrStorage))
	_, err = f.service.GetModel(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestUnreachableListCacheFallsBackToStore(t *testing.T) {
	f := newFixture(t, "")
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	f.service.cache = newListCache(client, f.logger)

	f.createModel(t, ModelInput{Name: "Chair", FilePath: "a.obj"})

	models, err := f.service.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "Chair", models[0].Name)
}

func TestNewServiceRejectsUnknownPolicy(t *testing.T) {
	f := newFixture(t, "")
	_, err := NewService(Options{DB: f.db, Files: f.files, OrphanPolicy: "archive"})
	assert.Error(t, err)
}

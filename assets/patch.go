package assets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	msgModelFieldsRequired    = "Name and filePath are required."
	msgNoUpdateData           = "No update data provided."
	msgMaterialFieldsRequired = "model_id and name are required."
	msgInvalidMaterialModelID = "Invalid model_id."
)

// ModelField names a caller-settable Model column as it appears on the wire.
type ModelField string

const (
	FieldName          ModelField = "name"
	FieldFilePath      ModelField = "filePath"
	FieldThumbnailPath ModelField = "thumbnailPath"
	FieldSize          ModelField = "size"
)

var modelFields = []ModelField{FieldName, FieldFilePath, FieldThumbnailPath, FieldSize}

// ModelPatch is a sparse Model update. A present key is applied, an absent key is left
// untouched, and a nil value stands for an explicit null.
type ModelPatch map[ModelField]*string

func (p ModelPatch) Set(field ModelField, value string) ModelPatch {
	p[field] = &value
	return p
}

func (p ModelPatch) Clear(field ModelField) ModelPatch {
	p[field] = nil
	return p
}

// ModelInput holds the fields accepted when creating a Model.
type ModelInput struct {
	Name          string
	FilePath      string
	ThumbnailPath *string
	Size          *string
}

// MaterialInput holds the fields accepted when creating a Material. An empty Data means
// the empty document.
type MaterialInput struct {
	ModelID       uint64
	Name          string
	Data          json.RawMessage
	ThumbnailPath *string
}

// DecodeModelInput reads a create request body. size may be a JSON number or string and
// keeps its exact textual form.
func DecodeModelInput(body map[string]json.RawMessage) (ModelInput, error) {
	var in ModelInput
	name, err := textField(body, FieldName, false)
	if err != nil {
		return in, err
	}
	filePath, err := textField(body, FieldFilePath, false)
	if err != nil {
		return in, err
	}
	if name == nil || filePath == nil {
		return in, invalid(msgModelFieldsRequired)
	}
	in.Name, in.FilePath = *name, *filePath

	if in.ThumbnailPath, err = textField(body, FieldThumbnailPath, false); err != nil {
		return in, err
	}
	if in.Size, err = textField(body, FieldSize, true); err != nil {
		return in, err
	}
	return in, nil
}

// DecodeModelPatch reads an update request body. Unknown keys are ignored, so a body
// holding none of the settable fields yields an empty patch.
func DecodeModelPatch(body map[string]json.RawMessage) (ModelPatch, error) {
	patch := ModelPatch{}
	for _, field := range modelFields {
		if _, present := body[string(field)]; !present {
			continue
		}
		value, err := textField(body, field, field == FieldSize)
		if err != nil {
			return nil, err
		}
		patch[field] = value
	}
	return patch, nil
}

// DecodeMaterialInput reads a Material create body. The parent id may be given as
// model_id or modelId, as a number or a numeric string.
func DecodeMaterialInput(body map[string]json.RawMessage) (MaterialInput, error) {
	var in MaterialInput

	rawModelID, ok := body["model_id"]
	if !ok || isNull(rawModelID) {
		rawModelID, ok = body["modelId"]
	}
	name, err := textField(body, "name", false)
	if err != nil {
		return in, err
	}
	if !ok || isNull(rawModelID) || name == nil || strings.TrimSpace(*name) == "" {
		return in, invalid(msgMaterialFieldsRequired)
	}

	modelID, err := decodeModelRef(rawModelID)
	if err != nil {
		return in, err
	}
	in.ModelID = modelID
	in.Name = *name

	if raw, present := body["data"]; present && !isNull(raw) {
		in.Data = raw
	}
	if in.ThumbnailPath, err = textField(body, FieldThumbnailPath, false); err != nil {
		return in, err
	}
	return in, nil
}

func decodeModelRef(raw json.RawMessage) (uint64, error) {
	var text string
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, invalid(msgInvalidMaterialModelID)
		}
		text = strings.TrimSpace(text)
	default:
		var number json.Number
		if err := json.Unmarshal(trimmed, &number); err != nil {
			return 0, invalid(msgInvalidMaterialModelID)
		}
		text = number.String()
	}
	id, err := ParseModelID(text)
	if err != nil {
		return 0, invalid(msgInvalidMaterialModelID)
	}
	return id, nil
}

// textField decodes an optional text value. Absent and null both yield nil; numeric
// values are accepted only when allowNumber is set and are kept verbatim.
func textField[K ~string](body map[string]json.RawMessage, key K, allowNumber bool) (*string, error) {
	raw, ok := body[string(key)]
	if !ok || isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, invalid(fmt.Sprintf("%s must be a string", key))
		}
		return &text, nil
	}
	if allowNumber {
		var number json.Number
		if err := json.Unmarshal(trimmed, &number); err == nil {
			text := number.String()
			return &text, nil
		}
		return nil, invalid(fmt.Sprintf("%s must be a number or a string", key))
	}
	return nil, invalid(fmt.Sprintf("%s must be a string", key))
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// normalizeDocument returns the stored form of a Material data payload.
func normalizeDocument(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}"), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, invalid("data must be a JSON object")
	}
	return trimmed, nil
}

func optionalRef(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

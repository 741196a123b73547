package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func ConvertToJSON(data interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(bytes), nil
}

// EntitiesFromJSON decodes a collected_entities column. A nil or empty column
// decodes to an empty map, never nil.
func EntitiesFromJSON(data datatypes.JSON) map[string]any {
	entities := map[string]any{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &entities)
	}
	return entities
}

// MetadataFromJSON decodes a message metadata column, returning nil when the
// column is empty.
func MetadataFromJSON(data datatypes.JSON) *MessageMetadata {
	if len(data) == 0 {
		return nil
	}
	var md MessageMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil
	}
	return &md
}

package domain

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// JSONFrom marshals v into a JSON column value.
func JSONFrom(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

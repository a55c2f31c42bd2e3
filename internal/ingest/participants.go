package ingest

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

func participantsJSON(names []string) (datatypes.JSON, error) {
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("failed to encode participants: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func unmarshalParticipants(raw datatypes.JSON, out *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

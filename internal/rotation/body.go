package rotation

import (
	"encoding/json"
	"fmt"
)

// IndexSettings are the settings of a newly rotated index.
type IndexSettings struct {
	Shards   int    `yaml:"shards" validate:"min=1"`
	Replicas int    `yaml:"replicas" validate:"min=0"`
	Refresh  string `yaml:"refresh"`
}

// DefaultIndexSettings returns 2 shards, 1 replica and a 10s refresh interval.
func DefaultIndexSettings() IndexSettings {
	return IndexSettings{Shards: 2, Replicas: 1, Refresh: "10s"}
}

// Body renders the create-index body.
func (s IndexSettings) Body() ([]byte, error) {
	settings := map[string]interface{}{
		"index.number_of_shards":   s.Shards,
		"index.number_of_replicas": s.Replicas,
	}
	if s.Refresh != "" {
		settings["index.refresh_interval"] = s.Refresh
	}
	body, err := json.Marshal(map[string]interface{}{"settings": settings})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index settings: %w", err)
	}
	return body, nil
}

package engine

import "encoding/json"

// merge unmarshals JSONB overrides into a copy of base. Fields absent from
// the overrides keep their defaults; nested structs are replaced field by
// field by json.Unmarshal's usual semantics.
func merge(base *Config, overrides []byte) (*Config, error) {
	cfg := *base
	if len(overrides) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(overrides, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

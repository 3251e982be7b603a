package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt wraps values that are present but not valid JSON for the target.
var ErrCorrupt = errors.New("kvstore: corrupt value")

// GetJSON decodes the value under key into v. It returns ErrNotFound when
// the key is missing and an error wrapping ErrCorrupt when decoding fails.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

package store

import (
	"encoding/json"
	"fmt"
)

// Result pages are stored as zstd-compressed JSON. Pages repeat keys and tag
// strings heavily, so even the default compression level pays for itself.

func (s *Store) encodeItems(items []SearchItem) ([]byte, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal result items: %w", err)
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Store) decodeItems(payload []byte) ([]SearchItem, error) {
	raw, err := s.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to decompress result items: %w", err)
	}
	var items []SearchItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unable to unmarshal result items: %w", err)
	}
	return items, nil
}

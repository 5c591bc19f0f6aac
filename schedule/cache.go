package schedule

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// Gob caching of built indexes. Only the exported fields round-trip; the
// lookup maps are rebuilt (with full validation) on load, so a corrupted
// or stale cache file can never yield an index that skipped checks.

// SerializeIndex encodes an Index to bytes using gob encoding.
func SerializeIndex(index *Index) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(index); err != nil {
		return nil, fmt.Errorf("encode schedule index: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeIndex decodes an Index from bytes and rebuilds its lookup
// structures.
func DeserializeIndex(data []byte) (*Index, error) {
	return DeserializeIndexFromReader(bytes.NewReader(data))
}

// SerializeIndexToFile writes an Index to a cache file.
func SerializeIndexToFile(index *Index, path string) error {
	data, err := SerializeIndex(index)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DeserializeIndexFromFile reads an Index from a cache file. Callers
// treat any error as a cache miss and reload from the GTFS zip.
func DeserializeIndexFromFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule cache: %w", err)
	}
	return DeserializeIndex(data)
}

// SerializeIndexToWriter writes an Index to w using gob encoding.
func SerializeIndexToWriter(index *Index, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(index); err != nil {
		return fmt.Errorf("encode schedule index: %w", err)
	}
	return nil
}

// DeserializeIndexFromReader reads an Index from r and rebuilds its
// lookup structures.
func DeserializeIndexFromReader(r io.Reader) (*Index, error) {
	var index Index
	if err := gob.NewDecoder(r).Decode(&index); err != nil {
		return nil, fmt.Errorf("decode schedule index: %w", err)
	}
	if err := index.build(nil); err != nil {
		return nil, fmt.Errorf("rebuild cached schedule index: %w", err)
	}
	return &index, nil
}

package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeJSON decodes a single JSON value into a generic tree. Numbers are
// kept as json.Number so integers survive a round trip exactly.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return out, nil
}

// Recanonicalize decodes data and encodes it again canonically.
func Recanonicalize(data []byte) ([]byte, error) {
	tree, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return Canonicalize(tree)
}

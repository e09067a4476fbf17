package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/davidahmann/charter/pkg/types"
)

// ParseCall decodes a JSON tool-call context. Numbers in args stay
// json.Number so hashes see the literal the host sent.
func ParseCall(data []byte) (types.ToolCall, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var call types.ToolCall
	if err := dec.Decode(&call); err != nil {
		return types.ToolCall{}, fmt.Errorf("parse tool call: %w", err)
	}
	return call, nil
}

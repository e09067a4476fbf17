package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://charter.schemas.local/api/"

// Request schemas, by file name.
const (
	evaluateSchema = "evaluate_request.schema.json"
	approveSchema  = "approve_request.schema.json"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func requestSchema(name string) (*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		entries, err := schemaFS.ReadDir("schema")
		if err != nil {
			schemasErr = err
			return
		}
		for _, e := range entries {
			raw, err := schemaFS.ReadFile("schema/" + e.Name())
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("request schema %s: %w", e.Name(), err)
				return
			}
		}
		schemas = map[string]*jsonschema.Schema{}
		for _, e := range entries {
			sch, err := c.Compile(schemaBase + e.Name())
			if err != nil {
				schemasErr = fmt.Errorf("request schema %s: %w", e.Name(), err)
				return
			}
			schemas[e.Name()] = sch
		}
	})
	if schemasErr != nil {
		return nil, schemasErr
	}
	sch, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown request schema %s", name)
	}
	return sch, nil
}

// RequestError lists every schema violation in a request body.
type RequestError struct {
	Problems []string
}

func (e *RequestError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// decodeRequest validates body against the named schema and decodes it
// into out. Numbers stay json.Number.
func decodeRequest(body io.Reader, name string, out any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return &RequestError{Problems: []string{"invalid json"}}
	}
	if dec.More() {
		return &RequestError{Problems: []string{"trailing data after json value"}}
	}

	sch, err := requestSchema(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		var problems []string
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			problems = flatten(ve, nil)
		} else {
			problems = []string{err.Error()}
		}
		sort.Strings(problems)
		return &RequestError{Problems: problems}
	}

	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &RequestError{Problems: []string{err.Error()}}
	}
	return nil
}

func flatten(ve *jsonschema.ValidationError, acc []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(acc, loc+": "+ve.Message)
	}
	for _, c := range ve.Causes {
		acc = flatten(c, acc)
	}
	return acc
}

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/amonhq/amon/internal/errs"
)

// schemaCache compiles each tool's input schema once and reuses it across
// calls. Invalidated when a tool is re-registered.
type schemaCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.compiled, name)
}

func (c *schemaCache) get(name string, raw map[string]any) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.compiled[name]; ok {
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "amon://tools/" + name + "/input_schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	c.compiled[name] = s
	return s, nil
}

// ValidateArgs checks call arguments against a tool's input schema. Tools
// with no schema accept any arguments.
func (c *schemaCache) validateArgs(name string, schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := c.get(name, schema)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArguments, err, "invalid input_schema for %s", name)
	}
	// jsonschema validates the generic JSON form, so round-trip args to
	// normalize numeric types.
	data, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArguments, err, "marshal args")
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return errs.Wrap(errs.KindInvalidArguments, err, "unmarshal args")
	}
	if generic == nil {
		generic = map[string]any{}
	}
	if err := compiled.Validate(generic); err != nil {
		return errs.Wrap(errs.KindInvalidArguments, err, "args for %s", name)
	}
	return nil
}

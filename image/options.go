package image

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/lunagen/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProviderOptions carries provider-specific settings keyed by provider name, e.g.
//
//	image.ProviderOptions{"openai": map[string]any{"quality": "hd"}}
//
// Values are JSON-compatible: nil, bool, numbers, strings, []any and map[string]any.
type ProviderOptions map[string]any

// Section returns the options addressed to provider, or nil.
func (o ProviderOptions) Section(provider string) map[string]any {
	if o == nil {
		return nil
	}
	section, _ := o[provider].(map[string]any)
	return section
}

// OptionsSchema validates a provider's options section against a JSON schema.
// The schema is compiled once, on first use.
type OptionsSchema struct {
	provider string
	source   string

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// NewOptionsSchema returns a lazily compiled schema for provider's options.
func NewOptionsSchema(provider, schemaJSON string) *OptionsSchema {
	return &OptionsSchema{provider: provider, source: schemaJSON}
}

func (s *OptionsSchema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		c := jsonschema.NewCompiler()
		name := s.provider + "-options.json"
		if err := c.AddResource(name, strings.NewReader(s.source)); err != nil {
			s.err = fmt.Errorf("schema resource: %w", err)
			return
		}
		s.schema, s.err = c.Compile(name)
	})
	return s.schema, s.err
}

// Validate checks the provider's section of opts. A missing section is valid.
func (s *OptionsSchema) Validate(opts ProviderOptions) error {
	raw, present := opts[s.provider]
	if !present || raw == nil {
		return nil
	}
	section, ok := raw.(map[string]any)
	if !ok {
		return types.NewError(types.ErrInvalidOptions, "options must be an object").WithProvider(s.provider)
	}

	schema, err := s.compile()
	if err != nil {
		return types.NewError(types.ErrInternalError, "compile options schema").WithCause(err).WithProvider(s.provider)
	}

	doc, err := normalizeJSON(section)
	if err != nil {
		return types.NewError(types.ErrInvalidOptions, "options are not JSON-compatible").WithCause(err).WithProvider(s.provider)
	}
	if err := schema.Validate(doc); err != nil {
		return types.NewError(types.ErrInvalidOptions, "invalid provider options").WithCause(err).WithProvider(s.provider)
	}
	return nil
}

// normalizeJSON round-trips v through encoding/json so Go ints, typed slices and
// structs reach the validator as plain JSON values.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// mergeOptions copies section into body; keys already in body are overwritten.
func mergeOptions(body map[string]any, section map[string]any) {
	for k, v := range section {
		body[k] = v
	}
}

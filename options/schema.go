// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package options defines the versioned container-creation option
// schema and validates caller-supplied option maps against it.
//
// The schema ships inside the binary as a commented JSONC document
// (schema.jsonc) and is parsed once at startup. Validation normalizes a
// sparse wire map into a fully-populated Options value; nothing sparse
// leaks past this package.
package options

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

//go:embed schema.jsonc
var schemaJSONC []byte

// Value types an option may declare.
const (
	TypeBoolean = "boolean"
	TypeString  = "string"
	TypeArray   = "array"
)

// Schema is the parsed option schema.
type Schema struct {
	Version  int       `json:"version"`
	Sections []Section `json:"sections"`
}

// Section groups related options for presentation; ordering is the
// display order.
type Section struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Options []Option `json:"options"`
}

// Option describes one creation option.
type Option struct {
	Key         string         `json:"key"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Default     any            `json:"default"`
	Items       *Items         `json:"items,omitempty"`
	Requires    map[string]any `json:"requires,omitempty"`
}

// Items describes array element type and the UI format hint.
type Items struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}

var (
	schema Schema

	// byKey indexes options across all sections.
	byKey map[string]Option

	// wireJSON is the compact form returned by GetCreateSchema.
	wireJSON string
)

func init() {
	if err := json.Unmarshal(jsonc.ToJSON(schemaJSONC), &schema); err != nil {
		panic("options: embedded schema is invalid: " + err.Error())
	}

	byKey = make(map[string]Option)
	for _, section := range schema.Sections {
		for _, option := range section.Options {
			if _, dup := byKey[option.Key]; dup {
				panic("options: duplicate schema key " + option.Key)
			}
			byKey[option.Key] = option
		}
	}
	for key, option := range byKey {
		for required := range option.Requires {
			if _, ok := byKey[required]; !ok {
				panic(fmt.Sprintf("options: %s requires unknown key %s", key, required))
			}
		}
	}

	compact, err := json.Marshal(schema)
	if err != nil {
		panic("options: encoding schema: " + err.Error())
	}
	wireJSON = string(compact)
}

// CreateSchema returns the parsed schema. The returned value shares
// the package-level definition; treat it as read-only.
func CreateSchema() Schema { return schema }

// SchemaJSON returns the compact JSON wire form of the schema, as
// served by the GetCreateSchema D-Bus method.
func SchemaJSON() string { return wireJSON }

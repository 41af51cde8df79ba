package llm

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Object builds an object schema whose listed properties are all required
func Object(props map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema().WithProperties(props)
	for name := range props {
		s.Required = append(s.Required, name)
	}
	sort.Strings(s.Required)
	return s
}

// Array builds an array schema of items with at least minItems entries
func Array(items *openapi3.Schema, minItems uint64) *openapi3.Schema {
	s := openapi3.NewArraySchema().WithItems(items)
	s.MinItems = minItems
	return s
}

// String is a non-empty string schema
func String() *openapi3.Schema {
	return openapi3.NewStringSchema().WithMinLength(1)
}

// Score is a number in [0, 100]
func Score() *openapi3.Schema {
	return openapi3.NewFloat64Schema().WithMin(0).WithMax(100)
}

// Number is any number
func Number() *openapi3.Schema {
	return openapi3.NewFloat64Schema()
}

// Enum is a string restricted to values
func Enum(values ...string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return s
}

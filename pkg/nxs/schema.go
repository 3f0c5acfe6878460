package nxs

import (
	_ "embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed header.schema.json
var headerSchemaJSON string

var (
	headerSchemaOnce sync.Once
	headerSchemaVal  *jsonschema.Schema
)

// headerSchema returns the compiled schema of the v3 json header.
func headerSchema() *jsonschema.Schema {
	headerSchemaOnce.Do(func() {
		headerSchemaVal = jsonschema.MustCompileString("header.schema.json", headerSchemaJSON)
	})
	return headerSchemaVal
}

package database

import (
	_ "embed"
)

//go:embed schemas/register_schema.sql
var registerSchema string

//go:embed schemas/cache_schema.sql
var cacheSchema string

// schemas maps database names to their embedded schema DDL.
var schemas = map[string]string{
	"register": registerSchema,
	"cache":    cacheSchema,
}

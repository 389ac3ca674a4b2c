// Package settings is the persistence layer for the backup settings document.
//
// The document lives under a single key (default "settings") and has the shape
//
//	{ "frequency": "daily" | "weekly", "lastBackupDate": "<RFC3339>" | null }
//
// Backends:
//   - "file": one JSON object file, the key maps to the document (default)
//   - "sqlite": key/value table in a SQLite database (modernc.org/sqlite)
//   - "memory": process-local map, used by tests and dry runs
//
// Stores stage writes with Set and persist them with Save.
package settings

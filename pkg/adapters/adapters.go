// Package adapters pulls in every built-in database driver. Importing it for
// side effects registers sqlite, duckdb and postgres with the adapter
// registry.
package adapters

import (
	_ "github.com/quarrylabs/quarry/pkg/adapters/duckdb"
	_ "github.com/quarrylabs/quarry/pkg/adapters/postgres"
	_ "github.com/quarrylabs/quarry/pkg/adapters/sqlite"
)

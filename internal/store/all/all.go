// Package all registers every storage backend. Import it for side effects
// from binaries that select a backend at runtime.
package all

import (
	_ "gpetl/internal/store/postgres"
	_ "gpetl/internal/store/sqlite"
)

// Package loader registers all built-in store drivers.
// Import for side effects:
//
//	import _ "github.com/vitrin-io/vitrin-go/internal/store/loader"
package loader

import (
	_ "github.com/vitrin-io/vitrin-go/internal/store/memory"
	_ "github.com/vitrin-io/vitrin-go/internal/store/sqlite"
)

package assets

import (
	_ "embed"
)

// BootstrapJS expects window.__donaShellConfig to be assigned before it runs.
//
//go:embed bootstrap.js
var BootstrapJS string

package migrations

import (
	"fmt"

	"github.com/demoulas/profitsharing-migrator/internal/registry"
)

// GlobalRegistry provides public access to the global migration registry.
var GlobalRegistry = registry.GlobalRegistry

// MustRegister registers m with GlobalRegistry and panics on failure. It is
// meant for init functions, where a bad migration must stop the binary.
func MustRegister(m *MigrationScript) {
	if err := GlobalRegistry.Register(m); err != nil {
		panic(fmt.Sprintf("register migration %s_%s: %v", m.Version, m.Name, err))
	}
}

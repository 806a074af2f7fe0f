// Package migrations is the public surface migration files use to register
// themselves with the global registry.
//
// A migration is a Go file whose init function builds its Up and Down scripts
// with the schema builder and registers them:
//
//	package profitsharing
//
//	import (
//		"github.com/demoulas/profitsharing-migrator/internal/schema"
//		"github.com/demoulas/profitsharing-migrator/migrations"
//	)
//
//	func init() {
//		up := schema.NewBuilder().
//			AddColumn("COUNTRY", schema.Column{Name: "ISO3", Type: "varchar(3)", Nullable: true})
//		down := schema.NewBuilder().DropColumn("COUNTRY", "ISO3")
//
//		migrations.MustRegister(&migrations.MigrationScript{
//			Version:    "20250101120000",
//			Name:       "add_country_iso3",
//			Connection: "profitsharing",
//			Backend:    "postgresql",
//			UpSQL:      up.MustSQL(),
//			DownSQL:    down.MustSQL(),
//		})
//	}
//
// The psm scaffold command writes such a file.
package migrations

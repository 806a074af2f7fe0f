package profitsharing

import (
	"fmt"

	"github.com/demoulas/profitsharing-migrator/migrations"
)

func init() {
	seeds, err := LoadSeeds()
	if err != nil {
		panic(fmt.Sprintf("profit-sharing seeds: %v", err))
	}
	for _, m := range Scripts(seeds) {
		migrations.MustRegister(m)
	}
}

// Scripts builds the profit-sharing migrations from seeds, in version order.
func Scripts(seeds *Seeds) []*migrations.MigrationScript {
	baselineUp, baselineDown := BuildBaseline(seeds)
	restructureUp, restructureDown := BuildRestructure(seeds)
	mapping := seeds.Mapping()
	profitCode := tableProfitCode

	return []*migrations.MigrationScript{
		{
			Version:    BaselineVersion,
			Name:       BaselineName,
			Connection: Connection,
			Backend:    Backend,
			UpSQL:      baselineUp.MustSQL(),
			DownSQL:    baselineDown.MustSQL(),
			Tables:     Tables,
		},
		{
			Version:      RestructureVersion,
			Name:         RestructureName,
			Connection:   Connection,
			Backend:      Backend,
			Table:        &profitCode,
			UpSQL:        restructureUp.MustSQL(),
			DownSQL:      restructureDown.MustSQL(),
			Dependencies: []string{BaselineName},
			Tables:       Tables,
			Guard:        func() migrations.Guard { return newRestructureGuard(mapping) },
		},
	}
}

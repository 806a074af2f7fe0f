package profitsharing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/migrations"
)

func loadSeeds(t *testing.T) *Seeds {
	t.Helper()
	seeds, err := LoadSeeds()
	require.NoError(t, err)
	return seeds
}

func TestLoadSeeds(t *testing.T) {
	seeds := loadSeeds(t)

	legacy := seeds.LegacyProfitCodes()
	codes := make([]int, len(legacy))
	for i, pc := range legacy {
		codes[i] = *pc.LegacyCode
	}
	assert.Equal(t, []int{0, 1, 2, 3, 5, 6, 8}, codes)

	inserted := seeds.InsertedProfitCodes()
	require.Len(t, inserted, 1)
	assert.Equal(t, 9, inserted[0].ID)
	assert.Equal(t, "Multiple Times", inserted[0].Frequency)

	for _, pc := range seeds.ProfitCodes {
		assert.LessOrEqual(t, len(pc.Name), 128, "name of %d", pc.ID)
		assert.LessOrEqual(t, len(pc.Frequency), 256, "frequency of %d", pc.ID)
		assert.LessOrEqual(t, len(pc.LegacyFrequency), 128, "legacy frequency of %d", pc.ID)
	}

	assert.Len(t, seeds.ISOCountries, 249)
	assert.Len(t, seeds.InsertedCountries(), 249-len(seeds.LegacyCountries))
	assert.Equal(t, "Norway", seeds.ISOName("NO"))
	assert.Equal(t, "", seeds.ISOName("XX"))
}

func TestSeedsValidate(t *testing.T) {
	code := 1
	tests := []struct {
		name  string
		seeds Seeds
		want  string
	}{
		{"duplicate id", Seeds{ProfitCodes: []ProfitCode{
			{ID: 1, Name: "a", Frequency: "f"}, {ID: 1, Name: "b", Frequency: "f"},
		}}, "listed twice"},
		{"missing name", Seeds{ProfitCodes: []ProfitCode{{ID: 1, Frequency: "f"}}}, "needs a name"},
		{"missing definition", Seeds{ProfitCodes: []ProfitCode{
			{LegacyCode: &code, ID: 1, Name: "a", Frequency: "f"},
		}}, "needs a definition"},
		{"bad iso", Seeds{ISOCountries: []Country{{ISO: "USA"}}}, "bad or repeated ISO code"},
		{"legacy not iso", Seeds{
			ISOCountries:    []Country{{ISO: "US", Name: "United States"}},
			LegacyCountries: []Country{{ISO: "DD", Name: "EAST GERMANY"}},
		}, "not an ISO 3166-1 code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seeds.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMapping(t *testing.T) {
	m := loadSeeds(t).Mapping()

	assert.True(t, m.IsIdentity())
	assert.Equal(t, []int{9}, m.Inserted())
	assert.True(t, m.IsInserted(9))
	assert.False(t, m.IsInserted(8))

	id, ok := m.ToID(5)
	assert.True(t, ok)
	assert.Equal(t, 5, id)
	_, ok = m.ToID(4)
	assert.False(t, ok)
	_, ok = m.ToCode(9)
	assert.False(t, ok)

	assert.Equal(t, [2]int{0, 0}, m.Pairs()[0])
	assert.True(t, strings.HasPrefix(m.ValuesSQL("m", false), "(VALUES (0, 0), (1, 1)"))
	assert.True(t, strings.HasSuffix(m.ValuesSQL("m", true), "AS m(new_id, old_code)"))
}

func TestMappingNotIdentity(t *testing.T) {
	m := &Mapping{toID: map[int]int{0: 10, 1: 11}, toCode: map[int]int{10: 0, 11: 1}}
	assert.False(t, m.IsIdentity())
	assert.Equal(t, "(VALUES (0, 10), (1, 11)) AS x(old_code, new_id)", m.ValuesSQL("x", false))
	assert.Equal(t, "(VALUES (10, 0), (11, 1)) AS x(new_id, old_code)", m.ValuesSQL("x", true))
}

// assertInOrder fails unless every fragment occurs in sql after the previous one.
func assertInOrder(t *testing.T, sql string, fragments ...string) {
	t.Helper()
	pos := 0
	for _, f := range fragments {
		i := strings.Index(sql[pos:], f)
		if !assert.GreaterOrEqual(t, i, 0, "%q not found after offset %d", f, pos) {
			return
		}
		pos += i + len(f)
	}
}

func TestBaseline(t *testing.T) {
	up, down := BuildBaseline(loadSeeds(t))
	upSQL, downSQL := up.MustSQL(), down.MustSQL()

	assertInOrder(t, upSQL,
		`CREATE TABLE "PROFIT_CODE"`,
		`CONSTRAINT "PK_PROFIT_CODE" PRIMARY KEY ("CODE")`,
		`CREATE TABLE "COUNTRY"`,
		`CREATE TABLE "CALDAR_RECORD"`,
		`CREATE UNIQUE INDEX "IX_CALDAR_RECORD_ACC_APWKEND"`,
		`CREATE TABLE "PROFIT_DETAIL"`,
		`"ID" bigint GENERATED BY DEFAULT AS IDENTITY NOT NULL`,
		`ADD CONSTRAINT "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE" FOREIGN KEY ("PROFIT_CODE") REFERENCES "PROFIT_CODE" ("CODE") ON DELETE RESTRICT`,
		`INSERT INTO "PROFIT_CODE" ("CODE", "DEFINITION", "FREQUENCY")`,
		`(8, '100% VESTED EARNINGS', 'YEAR END')`,
		`INSERT INTO "COUNTRY" ("ISO", "NAME")`,
		`('DE', 'WEST GERMANY')`,
	)
	assert.NotContains(t, upSQL, "(9, '")
	assert.NotContains(t, upSQL, `INSERT INTO "CALDAR_RECORD"`)

	assertInOrder(t, downSQL,
		`DROP TABLE "PROFIT_DETAIL"`,
		`DROP TABLE "CALDAR_RECORD"`,
		`DROP TABLE "COUNTRY"`,
		`DROP TABLE "PROFIT_CODE"`,
	)
}

func TestRestructureUp(t *testing.T) {
	up, _ := BuildRestructure(loadSeeds(t))
	sql := up.MustSQL()

	assertInOrder(t, sql,
		`ALTER TABLE "PROFIT_DETAIL" DROP CONSTRAINT "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE"`,
		`DROP INDEX "IX_PROFIT_DETAIL_PROFIT_CODE"`,
		`ALTER TABLE "PROFIT_CODE" DROP CONSTRAINT "PK_PROFIT_CODE"`,
		`ALTER TABLE "PROFIT_CODE" ADD "ID" smallint`,
		"UPDATE \"PROFIT_CODE\" SET \"ID\" = 8\nWHERE \"CODE\" = 8",
		`ALTER TABLE "PROFIT_CODE" ALTER COLUMN "ID" SET NOT NULL`,
		`ALTER TABLE "PROFIT_CODE" RENAME COLUMN "DEFINITION" TO "NAME"`,
		`ALTER TABLE "PROFIT_CODE" ALTER COLUMN "FREQUENCY" TYPE varchar(256)`,
		`ALTER TABLE "PROFIT_DETAIL" RENAME COLUMN "PROFIT_CODE" TO "PROFIT_CODE_ID"`,
		`ALTER COLUMN "PROFIT_CODE_ID" TYPE smallint USING "PROFIT_CODE_ID"::smallint`,
		`ALTER TABLE "PROFIT_CODE" DROP COLUMN "CODE"`,
		`ALTER TABLE "PROFIT_CODE" ADD CONSTRAINT "PK_PROFIT_CODE" PRIMARY KEY ("ID")`,
		`CREATE INDEX "IX_PROFIT_DETAIL_PROFIT_CODE_ID" ON "PROFIT_DETAIL" ("PROFIT_CODE_ID")`,
		`FOREIGN KEY ("PROFIT_CODE_ID") REFERENCES "PROFIT_CODE" ("ID") ON DELETE RESTRICT`,
		`UPDATE "PROFIT_CODE" SET "NAME" = 'Incoming contributions, forfeitures, earnings', "FREQUENCY" = 'Year-end only'`,
		`INSERT INTO "PROFIT_CODE" ("ID", "NAME", "FREQUENCY")`,
		`(9, 'Outgoing payment from 100% vesting amount (payment of ETVA funds)', 'Multiple Times')`,
		`ALTER TABLE "CALDAR_RECORD" ALTER COLUMN "ACC_WKEND_N" TYPE integer`,
		`ALTER TABLE "CALDAR_RECORD" ALTER COLUMN "ACC_CLN60_PERIOD" TYPE smallint`,
		`DROP INDEX "IX_CALDAR_RECORD_ACC_APWKEND"`,
		`ALTER COLUMN "ACC_APWKEND" TYPE date USING to_date(`,
		`ALTER TABLE "CALDAR_RECORD" ADD "ACC_WKEND2_N" integer`,
		`UPDATE "CALDAR_RECORD" SET "ACC_WKEND2_N" = (CASE WHEN ("ACC_WKEND_N")::integer / 10000 >= 50`,
		`ALTER COLUMN "ACC_WKEND2_N" SET NOT NULL`,
		`CREATE UNIQUE INDEX "IX_CALDAR_RECORD_ACC_WKEND2_N" ON "CALDAR_RECORD" ("ACC_WKEND2_N")`,
		`CREATE UNIQUE INDEX "IX_CALDAR_RECORD_ACC_APWKEND" ON "CALDAR_RECORD" ("ACC_APWKEND")`,
		"UPDATE \"COUNTRY\" SET \"NAME\" = 'United States of America'\nWHERE \"ISO\" = 'US'",
		`INSERT INTO "COUNTRY" ("ISO", "NAME")`,
		`('NO', 'Norway')`,
	)
	// An identity mapping needs no PROFIT_DETAIL rewrite.
	assert.NotContains(t, sql, "AS m(old_code, new_id)")
	assert.NotContains(t, sql, `('US',`)
}

func TestRestructureDown(t *testing.T) {
	_, down := BuildRestructure(loadSeeds(t))
	sql := down.MustSQL()

	assertInOrder(t, sql,
		"DELETE FROM \"COUNTRY\"\nWHERE \"ISO\" IN ('AD'",
		"UPDATE \"COUNTRY\" SET \"NAME\" = 'UNITED STATES'\nWHERE \"ISO\" = 'US'",
		`DROP INDEX "IX_CALDAR_RECORD_ACC_APWKEND"`,
		`DROP INDEX "IX_CALDAR_RECORD_ACC_WKEND2_N"`,
		`ALTER TABLE "CALDAR_RECORD" DROP COLUMN "ACC_WKEND2_N"`,
		`ALTER COLUMN "ACC_APWKEND" TYPE numeric(6,0) USING to_char("ACC_APWKEND", 'YYMMDD')::integer`,
		`CREATE UNIQUE INDEX "IX_CALDAR_RECORD_ACC_APWKEND"`,
		`ALTER COLUMN "ACC_WEEKN" TYPE numeric(2,0)`,
		`ALTER COLUMN "ACC_WKEND_N" TYPE numeric(6,0)`,
		"DELETE FROM \"PROFIT_CODE\"\nWHERE \"ID\" IN (9)",
		`UPDATE "PROFIT_CODE" SET "NAME" = 'CONT/FORF/EARN', "FREQUENCY" = 'YEAR END'`,
		`DROP CONSTRAINT "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE_ID"`,
		`DROP INDEX "IX_PROFIT_DETAIL_PROFIT_CODE_ID"`,
		`ALTER TABLE "PROFIT_CODE" DROP CONSTRAINT "PK_PROFIT_CODE"`,
		`ALTER TABLE "PROFIT_CODE" ADD "CODE" numeric(1,0)`,
		"UPDATE \"PROFIT_CODE\" SET \"CODE\" = 0\nWHERE \"ID\" = 0",
		`ALTER COLUMN "CODE" SET NOT NULL`,
		`ALTER COLUMN "PROFIT_CODE_ID" TYPE numeric(1,0)`,
		`RENAME COLUMN "PROFIT_CODE_ID" TO "PROFIT_CODE"`,
		`ALTER COLUMN "FREQUENCY" TYPE varchar(128)`,
		`RENAME COLUMN "NAME" TO "DEFINITION"`,
		`ALTER TABLE "PROFIT_CODE" DROP COLUMN "ID"`,
		`ADD CONSTRAINT "PK_PROFIT_CODE" PRIMARY KEY ("CODE")`,
		`CREATE INDEX "IX_PROFIT_DETAIL_PROFIT_CODE" ON "PROFIT_DETAIL" ("PROFIT_CODE")`,
		`ADD CONSTRAINT "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE" FOREIGN KEY ("PROFIT_CODE")`,
	)
}

// shiftedSeeds moves every profit-code ID ten places up, so legacy code N
// becomes ID N+10 and the inserted code 9 becomes 19.
func shiftedSeeds(t *testing.T) *Seeds {
	t.Helper()
	seeds := loadSeeds(t)
	for i := range seeds.ProfitCodes {
		seeds.ProfitCodes[i].ID += 10
	}
	return seeds
}

func TestRestructureRewritesDetailWhenMappingMoves(t *testing.T) {
	up, down := BuildRestructure(shiftedSeeds(t))

	assert.Contains(t, up.MustSQL(),
		`UPDATE "PROFIT_DETAIL" AS d SET "PROFIT_CODE_ID" = m.new_id FROM (VALUES (0, 10), (1, 11)`)
	assert.Contains(t, down.MustSQL(),
		`UPDATE "PROFIT_DETAIL" AS d SET "PROFIT_CODE_ID" = m.old_code FROM (VALUES (10, 0), (11, 1)`)
}

func TestScripts(t *testing.T) {
	scripts := Scripts(loadSeeds(t))
	require.Len(t, scripts, 2)

	baseline, restructure := scripts[0], scripts[1]
	assert.Equal(t, "20241201000000_create_profit_sharing_lookups_postgresql_profitsharing", baseline.ID())
	assert.Nil(t, baseline.Guard)
	assert.Equal(t, []string{BaselineName}, restructure.Dependencies)
	require.NotNil(t, restructure.Guard)
	assert.NotSame(t, restructure.Guard(), restructure.Guard())
	assert.ElementsMatch(t, []string{"PROFIT_CODE", "COUNTRY", "CALDAR_RECORD", "PROFIT_DETAIL"}, restructure.Tables)

	reg := registry.NewInMemoryRegistry()
	for _, m := range scripts {
		require.NoError(t, reg.Register(m))
	}
	sorted, err := registry.NewDependencyResolver(reg).ResolveDependencies(reg.GetAll())
	require.NoError(t, err)
	assert.Equal(t, []string{BaselineName, RestructureName}, []string{sorted[0].Name, sorted[1].Name})
}

func TestRegisteredOnImport(t *testing.T) {
	found := migrations.GlobalRegistry.GetMigrationByConnectionAndVersion(Connection, RestructureVersion)
	require.Len(t, found, 1)
	assert.Equal(t, RestructureName, found[0].Name)
}

package profitsharing

import (
	"github.com/demoulas/profitsharing-migrator/internal/schema"
)

const (
	BaselineVersion = "20241201000000"
	BaselineName    = "create_profit_sharing_lookups"

	Connection = "profitsharing"
	Backend    = "postgresql"
)

const (
	tableProfitCode   = "PROFIT_CODE"
	tableCountry      = "COUNTRY"
	tableCalendar     = "CALDAR_RECORD"
	tableProfitDetail = "PROFIT_DETAIL"
)

// Tables lists every table the profit-sharing migrations touch.
var Tables = []string{tableProfitCode, tableCountry, tableCalendar, tableProfitDetail}

var legacyCalendarColumns = []schema.Column{
	{Name: "ACC_WKEND_N", Type: "numeric(6,0)"},
	{Name: "ACC_APWKEND", Type: "numeric(6,0)"},
	{Name: "ACC_WEEKN", Type: "numeric(2,0)"},
	{Name: "ACC_PERIOD", Type: "numeric(2,0)"},
	{Name: "ACC_QUARTER", Type: "numeric(1,0)"},
	{Name: "ACC_CALPERIOD", Type: "numeric(2,0)"},
	{Name: "ACC_CLN60_WEEK", Type: "numeric(2,0)", Nullable: true},
	{Name: "ACC_CLN60_PERIOD", Type: "numeric(2,0)", Nullable: true},
}

// BuildBaseline returns the Up and Down scripts that create the lookup tables
// in their legacy shape.
func BuildBaseline(seeds *Seeds) (up, down *schema.Builder) {
	up = schema.NewBuilder().
		CreateTable(tableProfitCode, &schema.PrimaryKey{Name: "PK_PROFIT_CODE", Columns: []string{"CODE"}},
			schema.Column{Name: "CODE", Type: "numeric(1,0)"},
			schema.Column{Name: "DEFINITION", Type: "varchar(128)"},
			schema.Column{Name: "FREQUENCY", Type: "varchar(128)"},
		).
		CreateTable(tableCountry, &schema.PrimaryKey{Name: "PK_COUNTRY", Columns: []string{"ISO"}},
			schema.Column{Name: "ISO", Type: "varchar(2)"},
			schema.Column{Name: "NAME", Type: "varchar(100)"},
		).
		CreateTable(tableCalendar, &schema.PrimaryKey{Name: "PK_CALDAR_RECORD", Columns: []string{"ACC_WKEND_N"}},
			legacyCalendarColumns...,
		).
		CreateIndex(tableCalendar, "IX_CALDAR_RECORD_ACC_APWKEND", true, "ACC_APWKEND").
		CreateTable(tableProfitDetail, &schema.PrimaryKey{Name: "PK_PROFIT_DETAIL", Columns: []string{"ID"}},
			schema.Column{Name: "ID", Type: "bigint", Identity: true},
			schema.Column{Name: "SSN", Type: "integer"},
			schema.Column{Name: "PROFIT_YEAR", Type: "smallint"},
			schema.Column{Name: "PROFIT_CODE", Type: "numeric(1,0)"},
			schema.Column{Name: "CONTRIBUTION", Type: "numeric(9,2)", Default: "0"},
			schema.Column{Name: "EARNINGS", Type: "numeric(9,2)", Default: "0"},
			schema.Column{Name: "FORFEITURE", Type: "numeric(9,2)", Default: "0"},
			schema.Column{Name: "REMARK", Type: "varchar(128)", Nullable: true},
		).
		CreateIndex(tableProfitDetail, "IX_PROFIT_DETAIL_PROFIT_CODE", false, "PROFIT_CODE").
		AddForeignKey(schema.AddForeignKey{
			Table:            tableProfitDetail,
			Name:             "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE",
			Columns:          []string{"PROFIT_CODE"},
			PrincipalTable:   tableProfitCode,
			PrincipalColumns: []string{"CODE"},
			OnDelete:         schema.Restrict,
		})

	var codeRows [][]any
	for _, pc := range seeds.LegacyProfitCodes() {
		codeRows = append(codeRows, []any{*pc.LegacyCode, pc.LegacyDefinition, pc.LegacyFrequency})
	}
	up.InsertData(tableProfitCode, []string{"CODE", "DEFINITION", "FREQUENCY"}, codeRows...)

	var countryRows [][]any
	for _, c := range seeds.LegacyCountries {
		countryRows = append(countryRows, []any{c.ISO, c.Name})
	}
	up.InsertData(tableCountry, []string{"ISO", "NAME"}, countryRows...)

	down = schema.NewBuilder().
		DropTable(tableProfitDetail).
		DropTable(tableCalendar).
		DropTable(tableCountry).
		DropTable(tableProfitCode)
	return up, down
}

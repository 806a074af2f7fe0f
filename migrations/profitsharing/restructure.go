package profitsharing

import (
	"fmt"

	"github.com/demoulas/profitsharing-migrator/internal/fiscal"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
)

const (
	RestructureVersion = "20241219153000"
	RestructureName    = "profit_code_surrogate_key"
)

const (
	fkLegacy = "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE"
	fkNew    = "FK_PROFIT_DETAIL_PROFIT_CODE_PROFIT_CODE_ID"
	ixLegacy = "IX_PROFIT_DETAIL_PROFIT_CODE"
	ixNew    = "IX_PROFIT_DETAIL_PROFIT_CODE_ID"
	pkCode   = "PK_PROFIT_CODE"

	ixAPWeekEnding = "IX_CALDAR_RECORD_ACC_APWKEND"
	ixWeekEnding2  = "IX_CALDAR_RECORD_ACC_WKEND2_N"
)

// calendarSmallColumns are the week and period columns re-typed to smallint,
// with their legacy numeric type.
var calendarSmallColumns = []struct{ name, legacy string }{
	{"ACC_WEEKN", "numeric(2,0)"},
	{"ACC_PERIOD", "numeric(2,0)"},
	{"ACC_QUARTER", "numeric(1,0)"},
	{"ACC_CALPERIOD", "numeric(2,0)"},
	{"ACC_CLN60_WEEK", "numeric(2,0)"},
	{"ACC_CLN60_PERIOD", "numeric(2,0)"},
}

// BuildRestructure returns the Up and Down scripts of the PROFIT_CODE
// surrogate-key restructure. Down undoes Up step by step in reverse order.
func BuildRestructure(seeds *Seeds) (up, down *schema.Builder) {
	mapping := seeds.Mapping()
	legacy := seeds.LegacyProfitCodes()
	inserted := seeds.InsertedProfitCodes()
	q := schema.QuoteIdentifier

	up = schema.NewBuilder()

	// PROFIT_CODE: CODE primary key becomes an ID surrogate key.
	up.DropForeignKey(tableProfitDetail, fkLegacy).
		DropIndex(ixLegacy).
		DropPrimaryKey(tableProfitCode, pkCode).
		AddColumn(tableProfitCode, schema.Column{Name: "ID", Type: "smallint", Nullable: true})
	for _, pc := range legacy {
		up.UpdateData(schema.UpdateData{
			Table:      tableProfitCode,
			KeyColumns: []string{"CODE"}, KeyValues: []any{*pc.LegacyCode},
			Columns: []string{"ID"}, Values: []any{pc.ID},
		})
	}
	up.SetNullable(tableProfitCode, "ID", false).
		RenameColumn(tableProfitCode, "DEFINITION", "NAME").
		AlterColumnType(tableProfitCode, "FREQUENCY", "varchar(256)", "")

	// PROFIT_DETAIL follows the new key.
	up.RenameColumn(tableProfitDetail, "PROFIT_CODE", "PROFIT_CODE_ID").
		AlterColumnType(tableProfitDetail, "PROFIT_CODE_ID", "smallint", q("PROFIT_CODE_ID")+"::smallint")
	if !mapping.IsIdentity() {
		up.Sql(fmt.Sprintf(`UPDATE %s AS d SET %s = m.new_id FROM %s WHERE d.%s = m.old_code`,
			q(tableProfitDetail), q("PROFIT_CODE_ID"), mapping.ValuesSQL("m", false), q("PROFIT_CODE_ID")))
	}
	up.DropColumn(tableProfitCode, "CODE").
		AddPrimaryKey(tableProfitCode, pkCode, "ID").
		CreateIndex(tableProfitDetail, ixNew, false, "PROFIT_CODE_ID").
		AddForeignKey(schema.AddForeignKey{
			Table:            tableProfitDetail,
			Name:             fkNew,
			Columns:          []string{"PROFIT_CODE_ID"},
			PrincipalTable:   tableProfitCode,
			PrincipalColumns: []string{"ID"},
			OnDelete:         schema.Restrict,
		})

	// Re-seed names and frequencies, then add the new codes.
	for _, pc := range legacy {
		up.UpdateData(schema.UpdateData{
			Table:      tableProfitCode,
			KeyColumns: []string{"ID"}, KeyValues: []any{pc.ID},
			Columns: []string{"NAME", "FREQUENCY"}, Values: []any{pc.Name, pc.Frequency},
		})
	}
	if len(inserted) > 0 {
		rows := make([][]any, len(inserted))
		for i, pc := range inserted {
			rows[i] = []any{pc.ID, pc.Name, pc.Frequency}
		}
		up.InsertData(tableProfitCode, []string{"ID", "NAME", "FREQUENCY"}, rows...)
	}

	// CALDAR_RECORD: native types and the 8-digit week ending.
	up.AlterColumnType(tableCalendar, "ACC_WKEND_N", "integer", "")
	for _, c := range calendarSmallColumns {
		up.AlterColumnType(tableCalendar, c.name, "smallint", "")
	}
	up.DropIndex(ixAPWeekEnding).
		AlterColumnType(tableCalendar, "ACC_APWKEND", "date", fiscal.ExpandToDateSQL(q("ACC_APWKEND"))).
		AddColumn(tableCalendar, schema.Column{Name: "ACC_WKEND2_N", Type: "integer", Nullable: true}).
		Sql(fmt.Sprintf(`UPDATE %s SET %s = %s`, q(tableCalendar), q("ACC_WKEND2_N"), fiscal.ExpandSQL(q("ACC_WKEND_N")))).
		SetNullable(tableCalendar, "ACC_WKEND2_N", false).
		CreateIndex(tableCalendar, ixWeekEnding2, true, "ACC_WKEND2_N").
		CreateIndex(tableCalendar, ixAPWeekEnding, true, "ACC_APWKEND")

	// COUNTRY: ISO 3166-1 short names and the full code list.
	for _, c := range seeds.LegacyCountries {
		up.UpdateData(schema.UpdateData{
			Table:      tableCountry,
			KeyColumns: []string{"ISO"}, KeyValues: []any{c.ISO},
			Columns: []string{"NAME"}, Values: []any{seeds.ISOName(c.ISO)},
		})
	}
	newCountries := seeds.InsertedCountries()
	if len(newCountries) > 0 {
		rows := make([][]any, len(newCountries))
		for i, c := range newCountries {
			rows[i] = []any{c.ISO, c.Name}
		}
		up.InsertData(tableCountry, []string{"ISO", "NAME"}, rows...)
	}

	down = schema.NewBuilder()

	if len(newCountries) > 0 {
		keys := make([]any, len(newCountries))
		for i, c := range newCountries {
			keys[i] = c.ISO
		}
		down.DeleteData(tableCountry, "ISO", keys...)
	}
	for _, c := range seeds.LegacyCountries {
		down.UpdateData(schema.UpdateData{
			Table:      tableCountry,
			KeyColumns: []string{"ISO"}, KeyValues: []any{c.ISO},
			Columns: []string{"NAME"}, Values: []any{c.Name},
		})
	}

	down.DropIndex(ixAPWeekEnding).
		DropIndex(ixWeekEnding2).
		DropColumn(tableCalendar, "ACC_WKEND2_N").
		AlterColumnType(tableCalendar, "ACC_APWKEND", "numeric(6,0)", fiscal.CompactDateSQL(q("ACC_APWKEND"))).
		CreateIndex(tableCalendar, ixAPWeekEnding, true, "ACC_APWKEND")
	for i := len(calendarSmallColumns) - 1; i >= 0; i-- {
		c := calendarSmallColumns[i]
		down.AlterColumnType(tableCalendar, c.name, c.legacy, "")
	}
	down.AlterColumnType(tableCalendar, "ACC_WKEND_N", "numeric(6,0)", "")

	if len(inserted) > 0 {
		keys := make([]any, len(inserted))
		for i, pc := range inserted {
			keys[i] = pc.ID
		}
		down.DeleteData(tableProfitCode, "ID", keys...)
	}
	for _, pc := range legacy {
		down.UpdateData(schema.UpdateData{
			Table:      tableProfitCode,
			KeyColumns: []string{"ID"}, KeyValues: []any{pc.ID},
			Columns: []string{"NAME", "FREQUENCY"}, Values: []any{pc.LegacyDefinition, pc.LegacyFrequency},
		})
	}

	down.DropForeignKey(tableProfitDetail, fkNew).
		DropIndex(ixNew).
		DropPrimaryKey(tableProfitCode, pkCode).
		AddColumn(tableProfitCode, schema.Column{Name: "CODE", Type: "numeric(1,0)", Nullable: true})
	for _, pc := range legacy {
		down.UpdateData(schema.UpdateData{
			Table:      tableProfitCode,
			KeyColumns: []string{"ID"}, KeyValues: []any{pc.ID},
			Columns: []string{"CODE"}, Values: []any{*pc.LegacyCode},
		})
	}
	down.SetNullable(tableProfitCode, "CODE", false)
	if !mapping.IsIdentity() {
		down.Sql(fmt.Sprintf(`UPDATE %s AS d SET %s = m.old_code FROM %s WHERE d.%s = m.new_id`,
			q(tableProfitDetail), q("PROFIT_CODE_ID"), mapping.ValuesSQL("m", true), q("PROFIT_CODE_ID")))
	}
	down.AlterColumnType(tableProfitDetail, "PROFIT_CODE_ID", "numeric(1,0)", "").
		RenameColumn(tableProfitDetail, "PROFIT_CODE_ID", "PROFIT_CODE").
		AlterColumnType(tableProfitCode, "FREQUENCY", "varchar(128)", "").
		RenameColumn(tableProfitCode, "NAME", "DEFINITION").
		DropColumn(tableProfitCode, "ID").
		AddPrimaryKey(tableProfitCode, pkCode, "CODE").
		CreateIndex(tableProfitDetail, ixLegacy, false, "PROFIT_CODE").
		AddForeignKey(schema.AddForeignKey{
			Table:            tableProfitDetail,
			Name:             fkLegacy,
			Columns:          []string{"PROFIT_CODE"},
			PrincipalTable:   tableProfitCode,
			PrincipalColumns: []string{"CODE"},
			OnDelete:         schema.Restrict,
		})
	return up, down
}

package verify

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/fiscal"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestWeekEndingMismatches(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ACC_WKEND_N"::integer, "ACC_WKEND2_N" FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"ACC_WKEND_N", "ACC_WKEND2_N"}).
			AddRow(241228, 20241228).
			AddRow(971227, 20971227).
			AddRow(500107, nil).
			AddRow(230229, 20230229))

	got, err := WeekEndingMismatches(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 971227, got[0].WeekEnding)
	assert.Equal(t, 19971227, got[0].Expected)
	assert.Equal(t, int64(20971227), got[0].Stored.Int64)

	assert.Equal(t, 500107, got[1].WeekEnding)
	assert.False(t, got[1].Stored.Valid)
	assert.Contains(t, got[1].String(), "ACC_WKEND2_N=NULL")

	assert.ErrorIs(t, got[2].Err, fiscal.ErrInvalidDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnexpandableWeekEndings(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ACC_APWKEND"::integer FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(241228).AddRow(241332).AddRow(0))

	bad, err := UnexpandableWeekEndings(context.Background(), db, "ACC_APWKEND")
	require.NoError(t, err)
	assert.Equal(t, []int{241332, 0}, bad)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfitCodeIDsAndHistogram(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "CODE"::integer FROM "PROFIT_CODE" ORDER BY 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"CODE"}).AddRow(0).AddRow(1).AddRow(8))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "PROFIT_CODE_ID"::integer, count(*) FROM "PROFIT_DETAIL" GROUP BY "PROFIT_CODE_ID"`)).
		WillReturnRows(sqlmock.NewRows([]string{"code", "count"}).AddRow(8, 2).AddRow(0, 5))

	ids, err := ProfitCodeIDs(context.Background(), db, "CODE")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 8}, ids)

	hist, err := ProfitDetailHistogram(context.Background(), db, "PROFIT_CODE_ID")
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{0: 5, 8: 2}, hist)
	assert.Equal(t, []int{0, 8}, SortedKeys(hist))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfitCodeIDsError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("PROFIT_CODE").WillReturnError(sql.ErrConnDone)

	_, err := ProfitCodeIDs(context.Background(), db, "ID")
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestDigestQuery(t *testing.T) {
	q := DigestQuery("COUNTRY", []string{"NAME", "ISO"})
	assert.Equal(t,
		`SELECT count(*), coalesce(md5(string_agg(h, '' ORDER BY h)), '') FROM (SELECT md5(concat_ws('|', coalesce("ISO"::text, '<null>'), coalesce("NAME"::text, '<null>'))) AS h FROM "COUNTRY") t`,
		q)
}

func expectTable(mock sqlmock.Sqlmock, table, nameType, digest string, rows int64) {
	mock.ExpectQuery("information_schema.columns").WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "len", "prec", "scale", "nullable", "identity", "default"}).
			AddRow("ISO", "character varying", 2, -1, -1, "NO", "NO", "").
			AddRow("NAME", nameType, 100, -1, -1, "YES", "NO", ""))
	mock.ExpectQuery("pg_indexes").WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"indexname", "indexdef"}).
			AddRow("PK_COUNTRY", `CREATE UNIQUE INDEX "PK_COUNTRY" ON public."COUNTRY" USING btree ("ISO")`))
	mock.ExpectQuery("pg_constraint").WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"conname", "def"}).AddRow("PK_COUNTRY", `PRIMARY KEY ("ISO")`))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "COUNTRY"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "digest"}).AddRow(rows, digest))
}

func TestTakeSnapshotAndDiff(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	expectTable(mock, "COUNTRY", "character varying", "abc", 10)
	mock.ExpectQuery("information_schema.columns").WithArgs("GONE").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "len", "prec", "scale", "nullable", "identity", "default"}))
	before, err := TakeSnapshot(ctx, db, []string{"COUNTRY", "GONE"})
	require.NoError(t, err)
	require.True(t, before.Tables["COUNTRY"].Exists)
	require.False(t, before.Tables["GONE"].Exists)

	expectTable(mock, "COUNTRY", "character varying", "abc", 10)
	same, err := TakeSnapshot(ctx, db, []string{"COUNTRY"})
	require.NoError(t, err)
	assert.Empty(t, before.Diff(same))

	expectTable(mock, "COUNTRY", "text", "def", 10)
	changed, err := TakeSnapshot(ctx, db, []string{"COUNTRY"})
	require.NoError(t, err)

	diffs := before.Diff(changed)
	require.Len(t, diffs, 2)
	assert.Contains(t, diffs[0], "COUNTRY: column NAME changed")
	assert.Contains(t, diffs[1], "COUNTRY: data digest abc != def")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiffTablePresence(t *testing.T) {
	present := &Snapshot{Tables: map[string]*TableSnapshot{"T": {Exists: true}}}
	absent := &Snapshot{Tables: map[string]*TableSnapshot{"T": {}}}

	assert.Equal(t, []string{"T: table disappeared"}, present.Diff(absent))
	assert.Equal(t, []string{"T: table appeared"}, absent.Diff(present))
	assert.Empty(t, absent.Diff(&Snapshot{}))
}

func TestUncompactableDates(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_char("ACC_APWKEND", 'YYYYMMDD')::integer FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(19491231).AddRow(20241228).AddRow(20500101))

	bad, err := UncompactableDates(context.Background(), db, "ACC_APWKEND")
	require.NoError(t, err)
	assert.Equal(t, []int{19491231, 20500101}, bad)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckLegacyShape(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("CALDAR_RECORD", "ACC_WKEND2_N").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ACC_WKEND_N"::integer FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(241228).AddRow(241332))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ACC_APWKEND"::integer FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(250104))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "CODE"::integer FROM "PROFIT_CODE"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(0).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "PROFIT_CODE"::integer, count(*) FROM "PROFIT_DETAIL"`)).
		WillReturnRows(sqlmock.NewRows([]string{"code", "n"}).AddRow(0, 10).AddRow(1, 3))

	r, err := Check(context.Background(), db)
	require.NoError(t, err)
	assert.False(t, r.Restructured)
	assert.Equal(t, []int{0, 1}, r.ProfitCodes)
	assert.Equal(t, []string{"ACC_WKEND_N=241332 is not a valid YYMMDD date"}, r.Problems)
	assert.False(t, r.OK())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRestructuredShape(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("CALDAR_RECORD", "ACC_WKEND2_N").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ACC_WKEND_N"::integer, "ACC_WKEND2_N" FROM "CALDAR_RECORD"`)).
		WillReturnRows(sqlmock.NewRows([]string{"ACC_WKEND_N", "ACC_WKEND2_N"}).AddRow(241228, 20241228))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_char("ACC_APWKEND", 'YYYYMMDD')::integer`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(20241228))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ID"::integer FROM "PROFIT_CODE"`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(0).AddRow(9))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "PROFIT_CODE_ID"::integer, count(*) FROM "PROFIT_DETAIL"`)).
		WillReturnRows(sqlmock.NewRows([]string{"code", "n"}).AddRow(0, 10).AddRow(4, 2))

	r, err := Check(context.Background(), db)
	require.NoError(t, err)
	assert.True(t, r.Restructured)
	assert.Equal(t, []string{"2 PROFIT_DETAIL row(s) reference missing profit code 4"}, r.Problems)
	require.NoError(t, mock.ExpectationsWereMet())
}

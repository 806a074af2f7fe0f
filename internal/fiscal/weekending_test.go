package fiscal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandYYMMDD(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		want    int
		wantErr error
	}{
		{name: "current century", in: 241228, want: 20241228},
		{name: "leading zero year", in: 50107, want: 20050107},
		{name: "last year before pivot", in: 491231, want: 20491231},
		{name: "pivot year", in: 500107, want: 19500107},
		{name: "nineties", in: 971227, want: 19971227},
		{name: "leap day", in: 240229, want: 20240229},
		{name: "non leap day", in: 230229, wantErr: ErrInvalidDate},
		{name: "month zero", in: 240028, wantErr: ErrInvalidDate},
		{name: "day zero", in: 241200, wantErr: ErrInvalidDate},
		{name: "zero", in: 0, wantErr: ErrInvalidDate},
		{name: "negative", in: -1, wantErr: ErrOutOfRange},
		{name: "already expanded", in: 20241228, wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandYYMMDD(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompactYYYYMMDD(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		want    int
		wantErr error
	}{
		{name: "current century", in: 20241228, want: 241228},
		{name: "window start", in: 19500101, want: 500101},
		{name: "window end", in: 20491231, want: 491231},
		{name: "before window", in: 19491231, wantErr: ErrOutsideWindow},
		{name: "after window", in: 20500101, wantErr: ErrOutsideWindow},
		{name: "invalid date", in: 20240230, wantErr: ErrInvalidDate},
		{name: "too large", in: 100000000, wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompactYYYYMMDD(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandCompactRoundTrip(t *testing.T) {
	// Every calendar day in the window survives YYMMDD -> YYYYMMDD -> YYMMDD.
	start := time.Date(WindowStart, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(WindowEnd, time.December, 31, 0, 0, 0, 0, time.UTC)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		full := FromDate(d)
		short := full % 1000000

		expanded, err := ExpandYYMMDD(short)
		require.NoError(t, err)
		require.Equal(t, full, expanded)

		compacted, err := CompactYYYYMMDD(expanded)
		require.NoError(t, err)
		require.Equal(t, short, compacted)
	}
}

func TestToDate(t *testing.T) {
	d, err := ToDate(20241228)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.December, 28, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, 20241228, FromDate(d))

	_, err = ToDate(20241301)
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestSQLExpressions(t *testing.T) {
	assert.Equal(t,
		`(CASE WHEN ("ACC_WKEND_N")::integer / 10000 >= 50 THEN 19000000 ELSE 20000000 END + ("ACC_WKEND_N")::integer)`,
		ExpandSQL(`"ACC_WKEND_N"`))
	assert.Equal(t,
		`to_date(((CASE WHEN ("X")::integer / 10000 >= 50 THEN 19000000 ELSE 20000000 END + ("X")::integer))::text, 'YYYYMMDD')`,
		ExpandToDateSQL(`"X"`))
	assert.Equal(t, `to_char("X", 'YYMMDD')::integer`, CompactDateSQL(`"X"`))
}

package queue

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/logger"
)

func TestEncodeDefaults(t *testing.T) {
	job := &Job{Connection: "profitsharing", Schemas: []string{"public"}}
	data, err := Encode(job)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, ActionUp, job.Action)
	assert.Contains(t, string(data), `"connection":"profitsharing"`)

	decoded, err := Decode(data, "ignored")
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestDecode(t *testing.T) {
	job, err := Decode([]byte(`{"connection":"ps"}`), "header-id")
	require.NoError(t, err)
	assert.Equal(t, "header-id", job.ID)
	assert.Equal(t, ActionUp, job.Action)

	_, err = Decode([]byte(`{"id":"j","action":"down"}`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a migration_id")

	_, err = Decode([]byte(`{"id":"j","action":"sideways"}`), "")
	require.Error(t, err)

	_, err = Decode([]byte(`not json`), "")
	require.Error(t, err)
}

func TestLogResult(t *testing.T) {
	job := &Job{ID: "j1"}
	assert.Contains(t, LogResult(job, nil), "no result")
	assert.Equal(t, "processed migration job j1: 2 applied, 1 skipped",
		LogResult(job, &JobResult{Success: true, Applied: []string{"a", "b"}, Skipped: []string{"c"}}))
	assert.Contains(t, LogResult(job, &JobResult{Errors: []string{"boom"}}), "boom")
}

func TestReportResultKeepsPercentSigns(t *testing.T) {
	var buf bytes.Buffer
	logger.Logger().SetOutput(&buf)
	t.Cleanup(func() { logger.Logger().SetOutput(os.Stdout) })

	ReportResult(&Job{ID: "j2", Action: ActionUp}, &JobResult{Errors: []string{"disk 100% full"}})

	out := buf.String()
	assert.Contains(t, out, "disk 100% full")
	assert.NotContains(t, out, "%!")
	assert.Contains(t, out, "j2")
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func mockTimeSince(d time.Duration) func() {
	bkp := timeSince
	timeSince = func(_ time.Time) time.Duration { return d }
	return func() { timeSince = bkp }
}

func TestInstrumentExecution(t *testing.T) {
	restore := mockTimeSince(2 * time.Second)
	defer restore()

	executionsTotal.Reset()
	executionDuration.Reset()

	done := InstrumentExecution("m1", "up")
	done(OutcomeApplied)
	ObserveExecution("m1", "up", OutcomeSkipped)
	ObserveExecution("m1", "up", OutcomeSkipped)

	require.InDelta(t, 1, testutil.ToFloat64(executionsTotal.WithLabelValues("m1", "up", OutcomeApplied)), 0)
	require.InDelta(t, 2, testutil.ToFloat64(executionsTotal.WithLabelValues("m1", "up", OutcomeSkipped)), 0)
	require.Equal(t, 1, testutil.CollectAndCount(executionDuration))
}

func TestRehearsalDifferences(t *testing.T) {
	rehearsalDiffsTotal.Reset()

	RehearsalDifferences("m1", 3)
	RehearsalDifferences("m1", 0)

	require.InDelta(t, 3, testutil.ToFloat64(rehearsalDiffsTotal.WithLabelValues("m1")), 0)
}

func TestLockWaitAndQueue(t *testing.T) {
	restore := mockTimeSince(time.Second)
	defer restore()

	lockWaitDuration.Reset()
	queuedJobsTotal.Reset()

	InstrumentLockWait("profitsharing")()
	JobQueued("kafka")

	require.Equal(t, 1, testutil.CollectAndCount(lockWaitDuration))
	require.InDelta(t, 1, testutil.ToFloat64(queuedJobsTotal.WithLabelValues("kafka")), 0)
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.Retried(txn.TransientConflict)
	r.Retried(txn.TransientConflict)
	r.Retried(txn.IndeterminateCommit)
	r.Finished(txn.OutcomeCommitted, 3)
	r.Finished(txn.OutcomeRejected, 1)
	r.Finished(txn.OutcomeExhausted, 10)

	body := scrape(t, r)
	for _, line := range []string{
		`roster_txn_retries_total{class="transient_conflict"} 2`,
		`roster_txn_retries_total{class="indeterminate_commit"} 1`,
		`roster_txn_runs_total{outcome="committed"} 1`,
		`roster_txn_runs_total{outcome="rejected"} 1`,
		`roster_txn_runs_total{outcome="exhausted"} 1`,
		`roster_txn_attempts_count 3`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("metrics output lacks %q", line)
		}
	}
}

func TestFinishedWithoutAttemptsSkipsHistogram(t *testing.T) {
	r := NewRecorder()
	r.Finished(txn.OutcomeFailed, 0)

	body := scrape(t, r)
	if !strings.Contains(body, `roster_txn_runs_total{outcome="failed"} 1`) {
		t.Error("failed outcome not counted")
	}
	if !strings.Contains(body, "roster_txn_attempts_count 0") {
		t.Error("zero-attempt run should not be observed")
	}
}

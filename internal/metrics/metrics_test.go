package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/reason"
	"github.com/mehrguard/mehrguard/internal/tables"
)

func TestHandlerExportsCountersAndEscapes(t *testing.T) {
	c := New()
	c.ObserveAssessment(engine.Assessment{Verdict: engine.VerdictSafe}, time.Millisecond)
	c.ObserveAssessment(engine.Assessment{
		Verdict: engine.VerdictMalicious,
		Flags:   []reason.Code{reason.IPHost, reason.HTTPNotHTTPS},
	}, 2*time.Millisecond)
	c.ObserveAssessment(engine.Assessment{Verdict: engine.VerdictMalicious, Flags: []reason.Code{"odd\n\"x\""}}, 0)
	c.IncBatch()
	c.IncRejected()
	c.IncUpdateCheck("success")
	c.IncUpdateCheck("no_update_needed")
	c.IncUpdateCheck("no_update_needed")
	c.IncTableSwap()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(HandlerOptions{TablesVersion: func() int { return 7 }}).ServeHTTP(rec, req)

	body := rec.Body.String()
	assertContains := func(substr string) {
		t.Helper()
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics output missing %q. Got:\n%s", substr, body)
		}
	}

	assertContains("mehrguard_up 1")
	assertContains("mehrguard_analyses_total 3")
	assertContains("mehrguard_analysis_duration_seconds_sum 0.003000")
	assertContains("mehrguard_analysis_duration_seconds_count 3")
	assertContains(`mehrguard_analysis_duration_seconds_bucket{le="0.001"} 2`)
	assertContains(`mehrguard_analysis_duration_seconds_bucket{le="0.01"} 3`)
	assertContains(`mehrguard_analysis_duration_seconds_bucket{le="+Inf"} 3`)
	assertContains("mehrguard_batches_total 1")
	assertContains("mehrguard_rejected_requests_total 1")
	assertContains("mehrguard_table_swaps_total 1")
	assertContains(`mehrguard_verdicts_total{verdict="MALICIOUS"} 2`)
	assertContains(`mehrguard_verdicts_total{verdict="SAFE"} 1`)
	assertContains(`mehrguard_flags_total{flag="IP_HOST"} 1`)
	assertContains(`mehrguard_flags_total{flag="odd\n\"x\""} 1`)
	assertContains(`mehrguard_table_update_checks_total{result="no_update_needed"} 2`)
	assertContains("mehrguard_tables_version 7")
}

func TestNilCollectorIgnoresUpdates(t *testing.T) {
	var c *Collector
	c.ObserveAssessment(engine.Assessment{}, time.Second)
	c.IncBatch()
	c.IncRejected()
	c.IncUpdateCheck("error")
	c.IncTableSwap()
}

type fakePersister struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakePersister) Save(ctx context.Context, snap *tables.Snapshot, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.err
}

func TestWrapPersisterCountsFailures(t *testing.T) {
	c := New()
	inner := &fakePersister{}
	p := WrapPersister(inner, c)
	if err := p.Save(context.Background(), tables.Default(), nil); err != nil {
		t.Fatal(err)
	}
	inner.err = errors.New("disk full")
	if err := p.Save(context.Background(), tables.Default(), nil); err == nil {
		t.Fatal("expected inner error to pass through")
	}
	if inner.count != 2 {
		t.Fatalf("expected 2 saves, got %d", inner.count)
	}
	if got := c.saveFailures.Load(); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if WrapPersister(nil, c) != nil {
		t.Fatal("expected nil for nil inner persister")
	}
}

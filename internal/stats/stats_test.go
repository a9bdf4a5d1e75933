package stats_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/stats"
)

func TestCountersAndRollingAverage(t *testing.T) {
	c := stats.NewCollector(3)
	c.RecordAttempt(catalog.PhaseClassify)
	c.RecordAttempt(catalog.PhaseClassify)
	c.RecordSuccess(catalog.PhaseClassify, 2*time.Second)
	c.RecordFailure(catalog.PhaseClassify, "p1", "boom", 4*time.Second)

	snap := c.Snapshot()[catalog.PhaseClassify]
	if snap.Attempted != 2 || snap.Succeeded != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	avg, ok := c.RollingAverage(catalog.PhaseClassify)
	if !ok || avg != 3*time.Second {
		t.Fatalf("rolling average = %v ok=%v", avg, ok)
	}
}

func TestRollingAverageWindowBounded(t *testing.T) {
	c := stats.NewCollector(2)
	c.RecordSuccess(catalog.PhaseMedia, 10*time.Second)
	c.RecordSuccess(catalog.PhaseMedia, 2*time.Second)
	c.RecordSuccess(catalog.PhaseMedia, 4*time.Second)
	avg, ok := c.RollingAverage(catalog.PhaseMedia)
	if !ok || avg != 3*time.Second {
		t.Fatalf("expected window of last 2 samples, got %v", avg)
	}
}

func TestErrorLogBounded(t *testing.T) {
	c := stats.NewCollector(5)
	for i := 0; i < 60; i++ {
		c.RecordFailure(catalog.PhaseCache, fmt.Sprintf("p%d", i), "err", time.Second)
	}
	errs := c.Errors()
	if len(errs) != 50 {
		t.Fatalf("expected bounded log of 50, got %d", len(errs))
	}
	if errs[0].ItemID != "p10" {
		t.Fatalf("expected oldest retained entry p10, got %s", errs[0].ItemID)
	}
}

func TestReportMentionsPhasesAndErrors(t *testing.T) {
	c := stats.NewCollector(5)
	c.RecordAttempt(catalog.PhaseCache)
	c.RecordSuccess(catalog.PhaseCache, time.Second)
	c.RecordFailure(catalog.PhaseClassify, "p1", "schema decode failed", time.Second)

	report := c.Report()
	for _, want := range []string{"cache", "classify", "schema decode failed"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}

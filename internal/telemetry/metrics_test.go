package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks — verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"ruleset_compiles_total", RulesetCompilesTotal},
		{"ruleset_compile_duration_seconds", RulesetCompileDuration},
		{"ruleset_publishes_total", RulesetPublishesTotal},
		{"pointer_write_failures_total", PointerWriteFailuresTotal},
		{"approval_actions_total", ApprovalActionsTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				// prometheus.Desc.String() returns a Go syntax string of the form:
				//   Desc{fqName: "<name>", help: "...", constLabels: {}, variableLabels: [...]}
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return // found — test passes
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_HTTPRequestsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/test", "status": "200"}
	before := counterValue(t, HTTPRequestsTotal, labels)
	HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	after := counterValue(t, HTTPRequestsTotal, labels)
	if after-before < 1 {
		t.Errorf("HTTPRequestsTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_RulesetCompilesTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"result": "success"}
	before := counterValue(t, RulesetCompilesTotal, labels)
	RulesetCompilesTotal.WithLabelValues("success").Inc()
	after := counterValue(t, RulesetCompilesTotal, labels)
	if after-before < 1 {
		t.Errorf("RulesetCompilesTotal.Inc() did not increase counter")
	}
}

func TestMetrics_RulesetPublishesTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"environment": "prod", "rule_type": "AUTH"}
	before := counterValue(t, RulesetPublishesTotal, labels)
	RulesetPublishesTotal.WithLabelValues("prod", "AUTH").Inc()
	after := counterValue(t, RulesetPublishesTotal, labels)
	if after-before < 1 {
		t.Errorf("RulesetPublishesTotal.Inc() did not increase counter")
	}
}

func TestMetrics_ApprovalActionsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"entity_type": "RULE_VERSION", "action": "APPROVE"}
	before := counterValue(t, ApprovalActionsTotal, labels)
	ApprovalActionsTotal.WithLabelValues("RULE_VERSION", "APPROVE").Inc()
	after := counterValue(t, ApprovalActionsTotal, labels)
	if after-before < 1 {
		t.Errorf("ApprovalActionsTotal.Inc() did not increase counter")
	}
}

func TestMetrics_PointerWriteFailures_CanBeIncremented(t *testing.T) {
	before := plainCounterValue(t, PointerWriteFailuresTotal)
	PointerWriteFailuresTotal.Inc()
	after := plainCounterValue(t, PointerWriteFailuresTotal)
	if after-before < 1 {
		t.Errorf("PointerWriteFailuresTotal.Inc() did not increase counter")
	}
}

func TestMetrics_CompileDuration_CanBeObserved(t *testing.T) {
	RulesetCompileDuration.Observe(0.05)
	RulesetCompileDuration.Observe(0.5)
	// If no panic, the histogram is functioning.
}

func TestMetrics_DBOpenConnections_CanBeSet(t *testing.T) {
	DBOpenConnections.Set(5)
	// If no panic, gauge is working.
	DBOpenConnections.Set(0) // reset to neutral value
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

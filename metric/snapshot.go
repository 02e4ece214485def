package metric

import (
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/c360/stagegraph/errors"
)

const (
	pushedFamily   = "stagegraph_stage_elements_pushed_total"
	failuresFamily = "stagegraph_stage_failures_total"
)

// StageCounts is the per-stage view of the engine counters.
type StageCounts struct {
	Stage    string
	Pushed   uint64
	Failures uint64
}

// StageCounts gathers the registry and returns push and failure counts per
// stage, sorted by stage name.
func (r *MetricsRegistry) StageCounts() ([]StageCounts, error) {
	families, err := r.prometheusRegistry.Gather()
	if err != nil {
		return nil, errors.Wrap(err, "MetricsRegistry", "StageCounts", "gather metrics")
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return stageCounts(byName), nil
}

// ParseStageCounts reads stage counts from the text exposition format, e.g.
// a scrape of another process's metrics endpoint.
func ParseStageCounts(in io.Reader) ([]StageCounts, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(in)
	if err != nil {
		return nil, errors.WrapInvalid(err, "metric", "ParseStageCounts", "parse exposition")
	}
	return stageCounts(families), nil
}

func stageCounts(families map[string]*dto.MetricFamily) []StageCounts {
	byStage := make(map[string]*StageCounts)
	collect := func(family string, set func(*StageCounts, uint64)) {
		f, ok := families[family]
		if !ok || f.GetType() != dto.MetricType_COUNTER {
			return
		}
		for _, m := range f.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() != "stage" {
					continue
				}
				c, ok := byStage[label.GetValue()]
				if !ok {
					c = &StageCounts{Stage: label.GetValue()}
					byStage[c.Stage] = c
				}
				set(c, uint64(m.GetCounter().GetValue()))
			}
		}
	}
	collect(pushedFamily, func(c *StageCounts, v uint64) { c.Pushed = v })
	collect(failuresFamily, func(c *StageCounts, v uint64) { c.Failures = v })

	counts := make([]StageCounts, 0, len(byStage))
	for _, c := range byStage {
		counts = append(counts, *c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Stage < counts[j].Stage })
	return counts
}

package sink

import (
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// Summary describes the clearances estimated in a run.
type Summary struct {
	Records       int     `json:"records"`
	Failed        int     `json:"failed"`
	LowConfidence int     `json:"low_confidence"`
	Mean          float64 `json:"mean_m"`
	Median        float64 `json:"median_m"`
	Min           float64 `json:"min_m"`
	Max           float64 `json:"max_m"`
	StdDev        float64 `json:"stddev_m"`
}

// Summarize aggregates the successful records. The statistics stay zero when none succeeded.
func Summarize(records []Record) Summary {
	ok := lo.Filter(records, func(r Record, _ int) bool { return r.OK() })
	s := Summary{
		Records:       len(records),
		Failed:        len(records) - len(ok),
		LowConfidence: lo.CountBy(ok, func(r Record) bool { return r.LowConfidence }),
	}
	if len(ok) == 0 {
		return s
	}

	heights := stats.Float64Data(lo.Map(ok, func(r Record, _ int) float64 { return r.CeilingHeight }))
	s.Mean, _ = heights.Mean()
	s.Median, _ = heights.Median()
	s.Min, _ = heights.Min()
	s.Max, _ = heights.Max()
	s.StdDev, _ = heights.StandardDeviation()
	return s
}

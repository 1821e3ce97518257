package audit

import (
	"sort"
	"time"
)

// TypeCount pairs an action type with its occurrence count.
type TypeCount struct {
	ActionType string  `json:"action_type"`
	Count      int     `json:"count"`
	AvgRisk    float64 `json:"avg_risk"`
}

// Insights is a derived rollup over a trailing window of audit entries.
type Insights struct {
	WindowStart string         `json:"window_start"`
	Total       int            `json:"total"`
	ByDecision  map[string]int `json:"by_decision"`
	AvgRisk     float64        `json:"avg_risk"`
	HighRisk    int            `json:"high_risk"`
	TopTypes    []TypeCount    `json:"top_types"`
}

// ComputeInsights rolls up entries newer than now-window. Derived data only;
// the entries themselves are never touched.
func ComputeInsights(entries []Entry, window time.Duration, now time.Time) Insights {
	start := now.Add(-window)
	ins := Insights{
		WindowStart: start.UTC().Format("2006-01-02T15:04:05.000Z"),
		ByDecision:  make(map[string]int),
	}

	type agg struct {
		count int
		risk  float64
	}
	byType := make(map[string]*agg)
	var riskSum float64

	for _, e := range entries {
		if e.Time().Before(start) {
			continue
		}
		ins.Total++
		ins.ByDecision[e.Decision]++
		riskSum += e.RiskScore
		if e.RiskScore >= 0.7 {
			ins.HighRisk++
		}
		a := byType[e.ActionType]
		if a == nil {
			a = &agg{}
			byType[e.ActionType] = a
		}
		a.count++
		a.risk += e.RiskScore
	}

	if ins.Total > 0 {
		ins.AvgRisk = riskSum / float64(ins.Total)
	}

	for at, a := range byType {
		ins.TopTypes = append(ins.TopTypes, TypeCount{
			ActionType: at,
			Count:      a.count,
			AvgRisk:    a.risk / float64(a.count),
		})
	}
	sort.Slice(ins.TopTypes, func(i, j int) bool {
		a, b := ins.TopTypes[i], ins.TopTypes[j]
		if a.AvgRisk != b.AvgRisk {
			return a.AvgRisk > b.AvgRisk
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ActionType < b.ActionType
	})
	if len(ins.TopTypes) > 5 {
		ins.TopTypes = ins.TopTypes[:5]
	}

	return ins
}

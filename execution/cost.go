package execution

import "math"

// CostParams are the planner's unit costs.
type CostParams struct {
	RandomPageCost    float64
	CPUIndexTupleCost float64
	CPUOperatorCost   float64
}

// DefaultCostParams are the usual planner defaults.
var DefaultCostParams = CostParams{
	RandomPageCost:    4.0,
	CPUIndexTupleCost: 0.005,
	CPUOperatorCost:   0.0025,
}

// IndexPath describes a candidate index scan.
type IndexPath struct {
	// IndexPages and IndexTuples describe the index as a whole.
	IndexPages  int
	IndexTuples float64
	// HeapTuples is the number of rows in the table.
	HeapTuples float64
	// Selectivity is the fraction of heap rows the index conditions select.
	Selectivity float64
	// NumQuals is the number of index conditions.
	NumQuals int
	// LoopCount is how many times the scan is expected to be repeated, as the inner side of a nested loop.
	LoopCount float64
}

// IndexCost is the planner's estimate for an index scan.
type IndexCost struct {
	StartupCost float64
	TotalCost   float64
	Selectivity float64
	Correlation float64
	Pages       float64
}

// GenericCostEstimate estimates a scan that reads a share of the index proportional to the rows it selects. Each
// page fetched costs a random page read and each index tuple visited costs its CPU cost plus one operator call per
// condition. The order of rows in the index says nothing about heap order, so correlation is 0.
func GenericCostEstimate(params CostParams, path IndexPath) IndexCost {
	loops := max(path.LoopCount, 1)
	numIndexTuples := math.Round(path.Selectivity * path.HeapTuples)
	if path.IndexTuples > 0 && numIndexTuples > path.IndexTuples {
		numIndexTuples = path.IndexTuples
	}
	numIndexTuples = max(numIndexTuples, 1)

	numIndexPages := 1.0
	if path.IndexPages > 1 && path.IndexTuples > 1 {
		numIndexPages = math.Ceil(numIndexTuples * float64(path.IndexPages) / path.IndexTuples)
	}

	var cost float64
	if loops > 1 {
		// Repeated scans reread pages that are likely still cached.
		fetched := pagesFetched(numIndexTuples*loops, float64(path.IndexPages))
		cost = fetched * params.RandomPageCost / loops
	} else {
		cost = numIndexPages * params.RandomPageCost
	}
	qualOpCost := params.CPUOperatorCost * float64(path.NumQuals)
	cost += numIndexTuples * (params.CPUIndexTupleCost + qualOpCost)

	return IndexCost{
		TotalCost:   cost,
		Selectivity: path.Selectivity,
		Pages:       numIndexPages,
	}
}

// pagesFetched is the Mackert-Lohman estimate of distinct pages read when tuplesFetched tuples are fetched from a
// relation of pages pages that fits in cache.
func pagesFetched(tuplesFetched, pages float64) float64 {
	pages = max(pages, 1)
	fetched := 2 * pages * tuplesFetched / (2*pages + tuplesFetched)
	return math.Ceil(min(fetched, pages))
}

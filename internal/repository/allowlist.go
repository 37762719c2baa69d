package repository

// validMetrics are the numeric telemetry columns that may be interpolated
// into a dynamic analytic query. Dimensions and aggregations below are
// similarly bounded; together they keep GetTopK/GetTimeSeries/GetHistogram/
// GetMetricStats/GetErrorDistribution free of user-controlled SQL.
var validMetrics = map[string]bool{
	"cpu_usage":        true,
	"memory_usage":     true,
	"disk_utilization": true,
	"network_rx_rate":  true,
	"network_tx_rate":  true,
}

var validDimensions = map[string]bool{
	"region":       true,
	"project_id":   true,
	"host_id":      true,
	"anomaly_type": true,
	"h.region":     true,
	"h.project_id": true,
	"h.host_id":    true,
}

var validAggregations = map[string]bool{
	"mean": true,
	"min":  true,
	"max":  true,
	"p50":  true,
	"p95":  true,
}

// IsValidMetric reports whether metric is a known numeric telemetry column.
func IsValidMetric(metric string) bool {
	return validMetrics[metric]
}

// IsValidDimension reports whether dim is a known grouping/filter column.
func IsValidDimension(dim string) bool {
	return validDimensions[dim]
}

// IsValidAggregation reports whether agg is a supported time-series aggregation.
func IsValidAggregation(agg string) bool {
	return validAggregations[agg]
}

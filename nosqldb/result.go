package nosqldb

import "github.com/kvstore-labs/nosql-go-sdk/internal/codec"

// Result is the common shape every successful Execute call returns.
type Result struct {
	ReadUnitsUsed      int
	WriteUnitsUsed     int
	RateLimitDelayedMs int64
	RetryStats         RetryStats
}

// TableLimits is the server-reported provisioned capacity for a table; it
// drives the rate limiter map's capacity when a table's limits change.
type TableLimits struct {
	ReadUnitsPerSecond  int
	WriteUnitsPerSecond int
	DurationSeconds     int
}

func tableLimitsFromWire(w *codec.TableLimitsWire) *TableLimits {
	if w == nil {
		return nil
	}
	return &TableLimits{
		ReadUnitsPerSecond:  int(w.ReadUnitsPerSecond),
		WriteUnitsPerSecond: int(w.WriteUnitsPerSecond),
		DurationSeconds:     int(w.DurationSeconds),
	}
}

// TableResult is returned by GetTableRequest and carries the table's
// current provisioned capacity, which the engine feeds into the rate
// limiter map.
type TableResult struct {
	Result
	TableName string
	Limits    *TableLimits
}

package nosqldb

import (
	"github.com/kvstore-labs/nosql-go-sdk/internal/codec"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlerr"
)

// QueryDriver is the client-side continuation for an advanced (multi-stage)
// query, bound to one QueryRequest. It records the topology info and
// continuation key of the response that bound it; once it is bound, Execute
// on the same QueryRequest returns an empty QueryResult without network
// I/O, and the driver fetches no further results itself. It holds a plain
// reference to the Client that created
// it; the Client never retains a reference back to the driver, so there is
// no cycle and the driver's lifetime is bounded by whoever holds the
// QueryRequest.
type QueryDriver struct {
	client          *Client
	topologyInfo    []byte
	continuationKey []byte
}

// Client returns the engine handle the driver was bound to.
func (d *QueryDriver) Client() *Client { return d.client }

// QueryResult is returned by executing a QueryRequest. Pre-dispatch returns
// (continuation already bound, or a driver freshly constructed for a
// prepared-advanced query) carry no rows and no continuation key.
type QueryResult struct {
	Result
	Rows            [][]byte
	ContinuationKey []byte
	Driver          *QueryDriver
}

func emptyQueryResult(driver *QueryDriver) *QueryResult {
	return &QueryResult{Driver: driver}
}

// QueryRequest is a query operation. Once HasDriver() is true, re-executing
// the same request is a local no-op: Client.Execute returns an empty
// QueryResult without any network I/O.
type QueryRequest struct {
	BaseRequest

	Statement     string
	IsPrepared    bool
	IsSimpleQuery bool
	MaxReadKB     int

	driver *QueryDriver
}

func NewQueryRequest(table, statement string) *QueryRequest {
	return &QueryRequest{BaseRequest: BaseRequest{Table: table}, Statement: statement}
}

func (r *QueryRequest) OpCode() OpCode       { return OpQuery }
func (r *QueryRequest) DoesReads() bool      { return true }
func (r *QueryRequest) DoesWrites() bool     { return false }
func (r *QueryRequest) IsQueryRequest() bool { return true }

// HasDriver reports whether a continuation is already bound.
func (r *QueryRequest) HasDriver() bool { return r.driver != nil }

func (r *QueryRequest) Driver() *QueryDriver { return r.driver }

// bindDriver attaches a freshly constructed continuation, used both by the
// prepared-advanced-query pre-dispatch shortcut and by the engine after an
// unprepared advanced query's first response reports it needs one.
func (r *QueryRequest) bindDriver(d *QueryDriver) { r.driver = d }

func (r *QueryRequest) SetDefaults(cfg *Config) {
	r.SetDefaultsFromConfig(cfg)
	if r.MaxReadKB == 0 {
		r.MaxReadKB = 0 // left for the engine's maxReadKB clamp in executeInternal
	}
}

func (r *QueryRequest) Validate() error {
	if r.Statement == "" && !r.IsPrepared {
		return nosqlerr.NewIllegalArgumentException("QueryRequest requires a statement or a prepared query")
	}
	if r.MaxReadKB < 0 {
		return nosqlerr.NewIllegalArgumentException("maxReadKB must be >= 0, got %d", r.MaxReadKB)
	}
	return r.ValidateCommon()
}

func (r *QueryRequest) Serializer() codec.Serializer {
	var ck []byte
	if r.driver != nil {
		ck = r.driver.continuationKey
	}
	return codec.QuerySerializer{
		IsPrepared:      r.IsPrepared,
		IsSimpleQuery:   r.IsSimpleQuery,
		MaxReadKB:       r.MaxReadKB,
		Statement:       r.Statement,
		ContinuationKey: ck,
	}
}

func (r *QueryRequest) Deserializer() codec.Deserializer {
	return codec.QueryDeserializer{HasBoundDriver: r.driver != nil}
}

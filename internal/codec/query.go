package codec

// QueryPayload is the decoded body of a query response. NeedsDriver is set
// when the server reports this is an advanced (multi-stage) query and the
// request did not already carry a bound continuation: the engine must bind
// a new QueryDriver before returning.
type QueryPayload struct {
	Rows            [][]byte
	ContinuationKey []byte
	IsAdvancedQuery bool
	NeedsDriver     bool
	TopologyInfo    []byte
}

// QuerySerializer encodes a query request body. ContinuationKey is the
// bound QueryDriver's key when the request has one, nil otherwise.
type QuerySerializer struct {
	IsPrepared      bool
	IsSimpleQuery   bool
	MaxReadKB       int
	Statement       string
	ContinuationKey []byte
}

func (s QuerySerializer) Serialize(w *Writer) error {
	w.WriteBool(s.IsPrepared)
	w.WriteBool(s.IsSimpleQuery)
	w.WriteInt32(int32(s.MaxReadKB))
	w.WriteString(s.Statement)
	w.WriteBytes(s.ContinuationKey)
	return nil
}

// QueryDeserializer decodes a query response body.
type QueryDeserializer struct {
	// HasBoundDriver tells the deserializer whether the originating request
	// already carries a continuation; if true and the server reports an
	// advanced query, no new driver needs to be signalled.
	HasBoundDriver bool
}

func (d QueryDeserializer) Deserialize(r *Reader, serialVersion int16) (*DecodedPayload, error) {
	isAdvanced, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	numRows, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	rows := make([][]byte, 0, numRows)
	for i := int32(0); i < numRows; i++ {
		row, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	continuationKey, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	var topo []byte
	if isAdvanced {
		topo, err = r.ReadBytes()
		if err != nil {
			return nil, err
		}
	}
	readUnitsUsed, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	writeUnitsUsed, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}

	return &DecodedPayload{
		ReadUnits:  int(readUnitsUsed),
		WriteUnits: int(writeUnitsUsed),
		Query: &QueryPayload{
			Rows:            rows,
			ContinuationKey: continuationKey,
			IsAdvancedQuery: isAdvanced,
			NeedsDriver:     isAdvanced && !d.HasBoundDriver,
			TopologyInfo:    topo,
		},
	}, nil
}

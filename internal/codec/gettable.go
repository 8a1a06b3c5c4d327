package codec

// TableLimitsWire is the over-the-wire shape of a table's current
// provisioned capacity, as reported in a GetTableRequest/TableResult
// response. It drives the rate limiter map's capacity.
type TableLimitsWire struct {
	ReadUnitsPerSecond  int32
	WriteUnitsPerSecond int32
	DurationSeconds     int32
}

// GetTableSerializer encodes a GetTableRequest body: just the table name.
type GetTableSerializer struct {
	Table string
}

func (s GetTableSerializer) Serialize(w *Writer) error {
	w.WriteString(s.Table)
	return nil
}

// GetTableDeserializer decodes a TableResult body: read/write units/sec and
// the burst duration the server is willing to accumulate over, plus the
// read/write units this particular GetTable call itself consumed.
type GetTableDeserializer struct{}

func (GetTableDeserializer) Deserialize(r *Reader, serialVersion int16) (*DecodedPayload, error) {
	read, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	write, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	duration, err := r.ReadInt32()
	if err != nil {
		return nil, err
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
		TableLimits: &TableLimitsWire{
			ReadUnitsPerSecond:  read,
			WriteUnitsPerSecond: write,
			DurationSeconds:     duration,
		},
	}, nil
}

package pgwire

import (
	"encoding/binary"

	"github.com/jackc/pgio"
)

// DataRow is one row of a result set. Values alias the decoded frame.
type DataRow struct {
	Values [][]byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*DataRow) Backend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *DataRow) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "DataRow"}
	}
	rp := 0
	fieldCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2

	// If the capacity of the values slice is too small OR substantially too
	// large reallocate. This is too avoid one row with many columns from
	// permanently allocating memory.
	if cap(dst.Values) < fieldCount || cap(dst.Values)-fieldCount > 32 {
		newCap := 32
		if newCap < fieldCount {
			newCap = fieldCount
		}
		dst.Values = make([][]byte, fieldCount, newCap)
	} else {
		dst.Values = dst.Values[:fieldCount]
	}

	for i := 0; i < fieldCount; i++ {
		if len(src[rp:]) < 4 {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}

		valueLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
		rp += 4

		// null
		if valueLen == -1 {
			dst.Values[i] = nil
		} else {
			if valueLen < 0 {
				return &invalidMessageFormatErr{messageType: "DataRow"}
			}
			if len(src[rp:]) < valueLen {
				return &invalidMessageFormatErr{messageType: "DataRow"}
			}

			dst.Values[i] = src[rp : rp+valueLen : rp+valueLen]
			rp += valueLen
		}
	}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *DataRow) Encode(dst []byte) []byte {
	dst = append(dst, 'D')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendUint16(dst, uint16(len(src.Values)))
	for _, v := range src.Values {
		if v == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}

		dst = pgio.AppendInt32(dst, int32(len(v)))
		dst = append(dst, v...)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// ValueRange locates one column value inside a DataRow body. A null value is
// represented by a negative Start.
type ValueRange struct {
	Start int
	End   int
}

// IsNull reports whether the range represents SQL NULL.
func (r ValueRange) IsNull() bool { return r.Start < 0 }

// nullValueRange is the range stored for a column whose length header is -1.
var nullValueRange = ValueRange{Start: -1, End: -1}

// AppendValueRanges decodes the per-column length headers of a DataRow body into
// ranges. The ranges slice is resized and overwritten in place; it is only
// reallocated when its capacity is insufficient, so one slice can be reused for
// every row of a result set. Ranges are relative to src.
func AppendValueRanges(src []byte, ranges []ValueRange) ([]ValueRange, error) {
	if len(src) < 2 {
		return ranges, &invalidMessageFormatErr{messageType: "DataRow"}
	}
	fieldCount := int(binary.BigEndian.Uint16(src))
	rp := 2

	if cap(ranges) < fieldCount {
		ranges = make([]ValueRange, fieldCount)
	} else {
		ranges = ranges[:fieldCount]
	}

	for i := 0; i < fieldCount; i++ {
		if len(src[rp:]) < 4 {
			return ranges, &invalidMessageFormatErr{messageType: "DataRow"}
		}

		valueLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
		rp += 4

		if valueLen == -1 {
			ranges[i] = nullValueRange
			continue
		}

		if valueLen < 0 || len(src[rp:]) < valueLen {
			return ranges, &invalidMessageFormatErr{messageType: "DataRow"}
		}
		ranges[i] = ValueRange{Start: rp, End: rp + valueLen}
		rp += valueLen
	}

	return ranges, nil
}

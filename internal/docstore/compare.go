package docstore

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// typeRank orders values of different BSON types: missing/null first, then
// numbers, strings, booleans and dates.
func typeRank(v bson.RawValue) int {
	switch v.Type {
	case bson.TypeDouble, bson.TypeInt32, bson.TypeInt64:
		return 1
	case bson.TypeString:
		return 2
	case bson.TypeBoolean:
		return 3
	case bson.TypeDateTime:
		return 4
	default:
		return 0
	}
}

func compareValues(a, b bson.RawValue) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInt(int64(ra), int64(rb))
	}
	switch ra {
	case 1:
		fa, _ := rawNumber(a)
		fb, _ := rawNumber(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.StringValue(), b.StringValue())
	case 3:
		ba, bb := a.Boolean(), b.Boolean()
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 4:
		return compareInt(a.DateTime(), b.DateTime())
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func rawNumber(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	}
	return 0, false
}

// addNumeric applies an $inc delta to an existing field value, keeping the
// integer width when both sides are integers.
func addNumeric(current, delta interface{}) interface{} {
	d, isFloat := toNumber(delta)
	switch c := current.(type) {
	case nil:
		if isFloat {
			return d
		}
		return int64(d)
	case int32:
		if isFloat {
			return float64(c) + d
		}
		return int64(c) + int64(d)
	case int64:
		if isFloat {
			return float64(c) + d
		}
		return c + int64(d)
	case int:
		if isFloat {
			return float64(c) + d
		}
		return int64(c) + int64(d)
	case float64:
		return c + d
	}
	if isFloat {
		return d
	}
	return int64(d)
}

// toNumber converts a delta to float64, reporting whether it was a float.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), false
	case int32:
		return float64(n), false
	case int64:
		return float64(n), false
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

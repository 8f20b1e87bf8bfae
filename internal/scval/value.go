package scval

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindBigInt
	KindBytes
	KindText
	KindSequence
	KindMapping
	KindOpaque
)

// String returns the kind name, mainly for log output.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindBigInt:
		return "bigint"
	case KindBytes:
		return "bytes"
	case KindText:
		return "text"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the decoded form of a contract event value. It is a tagged variant
// so consumers switch on Kind instead of runtime type-checking.
//
// KindBytes carries a lowercase hex string, KindOpaque the base64 re-encoding
// of a value the decoder does not unpack (256-bit integers and unknown tags).
type Value struct {
	kind    Kind
	boolVal bool
	intVal  int64
	bigVal  *big.Int
	strVal  string
	seq     []Value
	mapping map[string]Value
}

// Constructors for each variant.

func Null() Value                       { return Value{kind: KindNull} }
func Bool(b bool) Value                 { return Value{kind: KindBool, boolVal: b} }
func Int64(i int64) Value               { return Value{kind: KindInt64, intVal: i} }
func BigInt(v *big.Int) Value           { return Value{kind: KindBigInt, bigVal: v} }
func Bytes(hexStr string) Value         { return Value{kind: KindBytes, strVal: hexStr} }
func Text(s string) Value               { return Value{kind: KindText, strVal: s} }
func Sequence(vals []Value) Value       { return Value{kind: KindSequence, seq: vals} }
func Mapping(m map[string]Value) Value  { return Value{kind: KindMapping, mapping: m} }
func Opaque(base64Encoded string) Value { return Value{kind: KindOpaque, strVal: base64Encoded} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean payload (valid for KindBool).
func (v Value) BoolVal() bool { return v.boolVal }

// Int64Val returns the integer payload (valid for KindInt64).
func (v Value) Int64Val() int64 { return v.intVal }

// BigIntVal returns the arbitrary-precision payload (valid for KindBigInt).
func (v Value) BigIntVal() *big.Int { return v.bigVal }

// TextVal returns the string payload (valid for KindText, KindBytes, KindOpaque).
func (v Value) TextVal() string { return v.strVal }

// SequenceVal returns the element slice (valid for KindSequence).
func (v Value) SequenceVal() []Value { return v.seq }

// MappingVal returns the key/value map (valid for KindMapping).
func (v Value) MappingVal() map[string]Value { return v.mapping }

// Get looks up a mapping entry. It returns a null Value and false when v is
// not a mapping or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Null(), false
	}
	entry, ok := v.mapping[key]
	if !ok {
		return Null(), false
	}
	return entry, true
}

// String renders the scalar form of the value. Mapping keys and event-kind
// topics use this representation.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.boolVal)
	case KindInt64:
		return strconv.FormatInt(v.intVal, 10)
	case KindBigInt:
		if v.bigVal == nil {
			return "0"
		}
		return v.bigVal.String()
	case KindBytes, KindText, KindOpaque:
		return v.strVal
	default:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(data)
	}
}

// Interface converts the value to plain Go types for structured logging and
// JSON encoding: nil, bool, int64, string, []interface{} or
// map[string]interface{}. Big integers become decimal strings so no precision
// is lost past 64 bits.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.boolVal
	case KindInt64:
		return v.intVal
	case KindBigInt:
		if v.bigVal == nil {
			return "0"
		}
		return v.bigVal.String()
	case KindBytes, KindText, KindOpaque:
		return v.strVal
	case KindSequence:
		out := make([]interface{}, len(v.seq))
		for i, elem := range v.seq {
			out[i] = elem.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(v.mapping))
		for key, elem := range v.mapping {
			out[key] = elem.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler using the Interface representation.
// Mapping keys are emitted in sorted order by the standard library.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Keys returns the sorted key set of a mapping value, mainly for tests and
// deterministic log output.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.mapping))
	for key := range v.mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package scval

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// UnknownEventType is returned when an event kind cannot be determined from
// the topics.
const UnknownEventType = "unknown"

// ContractInstancePlaceholder stands in for contract-instance values, which
// carry no event payload worth unpacking.
const ContractInstancePlaceholder = "contract_instance"

// DecodeBase64 decodes a base64 XDR-encoded ScVal into a Value.
// It errors only when the envelope itself cannot be parsed; any sub-value the
// decoder does not understand is substituted with its own re-encoding instead
// of failing the whole tree.
func DecodeBase64(encoded string) (Value, error) {
	var sv xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(encoded, &sv); err != nil {
		return Null(), fmt.Errorf("unmarshal scval: %w", err)
	}
	return Decode(sv), nil
}

// ExtractEventType returns the string form of the first topic's decoded value,
// or UnknownEventType when there are no topics or the first topic does not
// parse.
func ExtractEventType(topics []string) string {
	if len(topics) == 0 {
		return UnknownEventType
	}
	v, err := DecodeBase64(topics[0])
	if err != nil {
		return UnknownEventType
	}
	return v.String()
}

// Decode converts a parsed ScVal into a Value. It is total: tags it does not
// unpack become their base64 re-encoding rather than an error.
func Decode(sv xdr.ScVal) Value {
	switch sv.Type {
	case xdr.ScValTypeScvVoid, xdr.ScValTypeScvLedgerKeyContractInstance:
		return Null()

	case xdr.ScValTypeScvBool:
		if sv.B == nil {
			return Null()
		}
		return Bool(*sv.B)

	case xdr.ScValTypeScvU32:
		if sv.U32 == nil {
			return Null()
		}
		return Int64(int64(*sv.U32))

	case xdr.ScValTypeScvI32:
		if sv.I32 == nil {
			return Null()
		}
		return Int64(int64(*sv.I32))

	// 64-bit integers exceed the safe integer range of some downstream
	// consumers, so they are carried as arbitrary precision from here on.
	case xdr.ScValTypeScvU64:
		if sv.U64 == nil {
			return Null()
		}
		return BigInt(new(big.Int).SetUint64(uint64(*sv.U64)))

	case xdr.ScValTypeScvI64:
		if sv.I64 == nil {
			return Null()
		}
		return BigInt(big.NewInt(int64(*sv.I64)))

	case xdr.ScValTypeScvTimepoint:
		if sv.Timepoint == nil {
			return Null()
		}
		return BigInt(new(big.Int).SetUint64(uint64(*sv.Timepoint)))

	case xdr.ScValTypeScvDuration:
		if sv.Duration == nil {
			return Null()
		}
		return BigInt(new(big.Int).SetUint64(uint64(*sv.Duration)))

	case xdr.ScValTypeScvU128:
		if sv.U128 == nil {
			return Null()
		}
		return BigInt(combineU128(uint64(sv.U128.Hi), uint64(sv.U128.Lo)))

	case xdr.ScValTypeScvI128:
		if sv.I128 == nil {
			return Null()
		}
		return BigInt(combineI128(int64(sv.I128.Hi), uint64(sv.I128.Lo)))

	// 256-bit integers are not numerically reconstructed; they keep their
	// wire encoding. Downstream consumers have no use for them today.
	case xdr.ScValTypeScvU256, xdr.ScValTypeScvI256:
		return reencode(sv)

	case xdr.ScValTypeScvBytes:
		if sv.Bytes == nil {
			return Null()
		}
		return Bytes(hex.EncodeToString(*sv.Bytes))

	case xdr.ScValTypeScvString:
		if sv.Str == nil {
			return Null()
		}
		return Text(string(*sv.Str))

	case xdr.ScValTypeScvSymbol:
		if sv.Sym == nil {
			return Null()
		}
		return Text(string(*sv.Sym))

	case xdr.ScValTypeScvVec:
		if sv.Vec == nil || *sv.Vec == nil {
			return Sequence(nil)
		}
		elems := make([]Value, 0, len(**sv.Vec))
		for _, entry := range **sv.Vec {
			elems = append(elems, Decode(entry))
		}
		return Sequence(elems)

	case xdr.ScValTypeScvMap:
		if sv.Map == nil || *sv.Map == nil {
			return Mapping(map[string]Value{})
		}
		out := make(map[string]Value, len(**sv.Map))
		for _, entry := range **sv.Map {
			out[Decode(entry.Key).String()] = Decode(entry.Val)
		}
		return Mapping(out)

	case xdr.ScValTypeScvAddress:
		if sv.Address == nil {
			return Null()
		}
		if addr, ok := encodeAddress(*sv.Address); ok {
			return Text(addr)
		}
		return reencode(sv)

	case xdr.ScValTypeScvContractInstance:
		return Text(ContractInstancePlaceholder)

	default:
		return reencode(sv)
	}
}

// combineU128 reconstructs an unsigned 128-bit integer from its halves.
func combineU128(hi, lo uint64) *big.Int {
	result := new(big.Int).SetUint64(hi)
	result.Lsh(result, 64)
	return result.Add(result, new(big.Int).SetUint64(lo))
}

// combineI128 reconstructs a signed 128-bit integer: the high half carries the
// sign, the low half is always unsigned.
func combineI128(hi int64, lo uint64) *big.Int {
	result := big.NewInt(hi)
	result.Lsh(result, 64)
	return result.Add(result, new(big.Int).SetUint64(lo))
}

// encodeAddress renders an ScAddress in its canonical strkey form.
func encodeAddress(addr xdr.ScAddress) (string, bool) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", false
		}
		return addr.AccountId.Address(), true
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", false
		}
		encoded, err := strkey.Encode(strkey.VersionByteContract, (*addr.ContractId)[:])
		if err != nil {
			return "", false
		}
		return encoded, true
	default:
		return "", false
	}
}

// reencode falls back to the value's own base64 XDR representation.
func reencode(sv xdr.ScVal) Value {
	encoded, err := xdr.MarshalBase64(sv)
	if err != nil {
		// A value that cannot be re-marshaled carries no usable payload.
		return Null()
	}
	return Opaque(encoded)
}

package services

import (
	"github.com/duskforge/opcuacore/authz"
	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/uatype"
)

// WriteValue is one item of a Write request (spec.md §3).
type WriteValue struct {
	Node  uatype.NodeId
	Attr  uatype.AttributeId
	Range uatype.IndexRange
	Value uatype.DataValue
}

// WriteResult is the per-item outcome plus the promoted service-level
// status (spec.md §4.G point 8).
type WriteResult struct {
	ItemStatus    []cmn.StatusCode
	ServiceStatus cmn.StatusCode
}

// DataChangeNotifier is notified whenever a Write successfully changes a
// monitored (NodeId, AttributeId) pair (spec.md §4.G point 7); the
// subscription publish queue (component I) implements this.
type DataChangeNotifier interface {
	OnDataChange(node uatype.NodeId, attr uatype.AttributeId, dv uatype.DataValue)
}

// WriteContext bundles the collaborators a Write call needs, all
// host-supplied (spec.md §6).
type WriteContext struct {
	AddressSpace AddressSpace
	AuthN        authz.AuthN
	Notifier     DataChangeNotifier // optional; nil means no subscriptions care
	User         string
	Roles        []string
	// LocalServiceTreatment: requests originated by the server's own
	// application bypass access-level and authorization checks but still
	// run the type check and still emit data-change events (spec.md §4.G).
	LocalServiceTreatment bool
}

// Write executes the full per-item algorithm of spec.md §4.G against each
// WriteValue, returning per-item statuses plus the promoted service status.
func Write(wc WriteContext, items []WriteValue) WriteResult {
	statuses := make([]cmn.StatusCode, len(items))
	for i, item := range items {
		statuses[i] = writeOne(wc, item)
	}
	return WriteResult{ItemStatus: statuses, ServiceStatus: promote(statuses)}
}

func writeOne(wc WriteContext, item WriteValue) cmn.StatusCode {
	// 1. Resolve the node.
	info, ok := wc.AddressSpace.Resolve(item.Node)
	if !ok {
		return cmn.BadNodeIdUnknown
	}

	// 2. Only Value of a Variable is writable.
	if info.Class != uatype.NodeClassVariable || item.Attr != uatype.AttributeValue {
		return cmn.BadNotWritable
	}

	// 3. Type check, with the two ByteString<->Byte-array conversions and
	// value-rank partial order.
	converted, ok := typeCheckAndConvert(wc.AddressSpace, info, item.Value.Value)
	if !ok {
		return cmn.BadTypeMismatch
	}
	item.Value.Value = converted

	// 4. Access-level + sub-attribute checks. Local service treatments
	// bypass this (spec.md §4.G "Local service treatments... bypass the
	// access-level and authorization checks").
	if !wc.LocalServiceTreatment {
		if !info.AccessLevel.Has(uatype.AccessCurrentWrite) {
			return cmn.BadNotWritable
		}
		if item.Value.Status != uatype.Good && !info.AccessLevel.Has(uatype.AccessStatusWrite) {
			return cmn.BadNotWritable
		}
		if item.Value.SourceTimestamp != 0 && !info.AccessLevel.Has(uatype.AccessTimestampWrite) {
			return cmn.BadNotWritable
		}
	}

	// 5. Authorization.
	if !wc.LocalServiceTreatment {
		authorized := authz.Authorize(wc.AuthN, wc.AddressSpace, authz.Request{
			Op:    uatype.PermWrite,
			Node:  item.Node,
			Attr:  item.Attr,
			User:  wc.User,
			Roles: wc.Roles,
		})
		if !authorized {
			return cmn.BadUserAccessDenied
		}
	}

	// 6. Apply.
	if err := wc.AddressSpace.WriteValue(item.Node, item.Value, item.Range); err != nil {
		return cmn.StatusOf(err)
	}

	// 7. Data-change event.
	if wc.Notifier != nil {
		wc.Notifier.OnDataChange(item.Node, item.Attr, item.Value)
	}

	return cmn.Good
}

// typeCheckAndConvert implements spec.md §4.G point 3: exact type match,
// transitive subtype (delegated to AddressSpace.IsSubtype, which also
// covers the "simple numeric subtype" rule — e.g. a narrower int written
// into a wider-typed node), the two named ByteString<->Byte-array
// conversions, and the value-rank partial order. Returns the (possibly
// converted) value and whether it type-checks.
func typeCheckAndConvert(as AddressSpace, info NodeInfo, v uatype.Variant) (uatype.Variant, bool) {
	if v.Type == info.DataType || (as != nil && as.IsSubtype(v.Type, info.DataType)) {
		if !rankSatisfies(rankOf(v), info.ValueRank) {
			return v, false
		}
		return v, true
	}

	// Enumeration is represented on the wire as Int32; a structurally
	// compatible numeric subtype is accepted.
	if info.DataType == uatype.TypeEnumeration && v.Type == uatype.TypeInt32 {
		return v, rankSatisfies(rankOf(v), info.ValueRank)
	}

	// ByteString scalar -> Byte one-dim array.
	if info.DataType == uatype.TypeByte && info.ValueRank == uatype.ValueRankOneDim &&
		v.Type == uatype.TypeByteString && v.IsScalar() {
		raw, ok := v.Value.([]byte)
		if !ok {
			return v, false
		}
		elems := make([]any, len(raw))
		for i, b := range raw {
			elems[i] = int64(b)
		}
		return uatype.Variant{Type: uatype.TypeByte, Value: elems, Dims: []int32{int32(len(raw))}}, true
	}

	// Byte one-dim array -> ByteString scalar.
	if info.DataType == uatype.TypeByteString && v.Type == uatype.TypeByte && !v.IsScalar() {
		elems, ok := v.Value.([]any)
		if !ok {
			return v, false
		}
		raw := make([]byte, len(elems))
		for i, e := range elems {
			n, ok := e.(int64)
			if !ok {
				return v, false
			}
			raw[i] = byte(n)
		}
		return uatype.Variant{Type: uatype.TypeByteString, Value: raw}, true
	}

	return v, false
}

func rankOf(v uatype.Variant) uatype.ValueRank {
	switch len(v.Dims) {
	case 0:
		return uatype.ValueRankScalar
	case 1:
		return uatype.ValueRankOneDim
	default:
		return uatype.ValueRank(len(v.Dims))
	}
}

// rankSatisfies reads naturally at the call site: "does the source rank
// satisfy the target's declared rank" (uatype.ValueRank.Satisfies takes the
// receiver as the target).
func rankSatisfies(src, target uatype.ValueRank) bool {
	return target.Satisfies(src)
}

// promote implements spec.md §4.G point 8: service status is Good unless
// every item failed with the same code, in which case that code is
// promoted to the service-level status.
func promote(statuses []cmn.StatusCode) cmn.StatusCode {
	if len(statuses) == 0 {
		return cmn.Good
	}
	first := statuses[0]
	if first == cmn.Good {
		return cmn.Good
	}
	for _, s := range statuses[1:] {
		if s != first {
			return cmn.Good
		}
	}
	return first
}

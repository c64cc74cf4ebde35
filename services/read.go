package services

import (
	"github.com/duskforge/opcuacore/authz"
	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/uatype"
)

// ReadValueId is one item of a Read request (spec.md §3).
type ReadValueId struct {
	Node  uatype.NodeId
	Attr  uatype.AttributeId
	Range uatype.IndexRange
}

// ReadResult is one item's outcome: the value (possibly "Good but
// invalid" for a missing attribute) with its own status, per spec.md §4.G
// "Read path".
type ReadResult struct {
	Value  uatype.DataValue
	Status cmn.StatusCode
}

// ReadContext mirrors WriteContext for the Read path (spec.md §6).
type ReadContext struct {
	AddressSpace AddressSpace
	AuthN        authz.AuthN
	User         string
	Roles        []string
	LocalServiceTreatment bool
}

// Read mirrors the Write algorithm of spec.md §4.G: IndexRange is only
// valid for Value, role permissions are checked same as Write (with
// PermRead), and missing attributes report uatype.GoodButInvalid rather
// than failing the whole item.
func Read(rc ReadContext, items []ReadValueId) []ReadResult {
	out := make([]ReadResult, len(items))
	for i, item := range items {
		out[i] = readOne(rc, item)
	}
	return out
}

func readOne(rc ReadContext, item ReadValueId) ReadResult {
	info, ok := rc.AddressSpace.Resolve(item.Node)
	if !ok {
		return ReadResult{Status: cmn.BadNodeIdUnknown}
	}

	if item.Range.Set && item.Attr != uatype.AttributeValue {
		return ReadResult{Status: cmn.BadIndexRangeNoData}
	}

	if !rc.LocalServiceTreatment {
		// AccessCurrentRead is the node-level gate (is this Variable
		// readable at all); the user-access-level projection itself is
		// authz.Authorize below, which consults the caller's roles via
		// AddressSpace.NodeRolePermissions/NamespaceDefaultRolePermissions.
		if item.Attr == uatype.AttributeValue && !info.AccessLevel.Has(uatype.AccessCurrentRead) {
			return ReadResult{Status: cmn.BadUserAccessDenied}
		}
		authorized := authz.Authorize(rc.AuthN, rc.AddressSpace, authz.Request{
			Op:    uatype.PermRead,
			Node:  item.Node,
			Attr:  item.Attr,
			User:  rc.User,
			Roles: rc.Roles,
		})
		if !authorized {
			return ReadResult{Status: cmn.BadUserAccessDenied}
		}
	}

	if item.Attr != uatype.AttributeValue {
		return ReadResult{Value: uatype.DataValue{Status: uatype.Good}, Status: cmn.Good}
	}

	dv, ok := rc.AddressSpace.ReadValue(item.Node)
	if !ok {
		return ReadResult{Value: uatype.DataValue{Status: uatype.GoodButInvalid}, Status: cmn.Good}
	}
	return ReadResult{Value: dv, Status: cmn.Good}
}

package services_test

import (
	"testing"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/services"
	"github.com/duskforge/opcuacore/uatype"
)

func TestReadIndexRangeOnlyValidForValue(t *testing.T) {
	as := newFakeAS()
	node := uatype.NumericNodeId(1, 1)
	as.nodes[node] = services.NodeInfo{Class: uatype.NodeClassVariable, AccessLevel: uatype.AccessCurrentRead}

	res := services.Read(services.ReadContext{AddressSpace: as, AuthN: allowAuthN{}}, []services.ReadValueId{
		{Node: node, Attr: uatype.AttributeDisplayName, Range: uatype.IndexRange{Set: true, Low: 0, High: 1}},
	})
	if res[0].Status != cmn.BadIndexRangeNoData {
		t.Fatalf("expected BadIndexRangeNoData, got %v", res[0].Status)
	}
}

func TestReadMissingValueReturnsGoodButInvalid(t *testing.T) {
	as := newFakeAS()
	node := uatype.NumericNodeId(1, 1)
	as.nodes[node] = services.NodeInfo{Class: uatype.NodeClassVariable, AccessLevel: uatype.AccessCurrentRead}

	res := services.Read(services.ReadContext{AddressSpace: as, AuthN: allowAuthN{}}, []services.ReadValueId{
		{Node: node, Attr: uatype.AttributeValue},
	})
	if res[0].Status != cmn.Good {
		t.Fatalf("expected item-level Good even for a missing attribute, got %v", res[0].Status)
	}
	if res[0].Value.Status != uatype.GoodButInvalid {
		t.Fatalf("expected GoodButInvalid data status, got %v", res[0].Value.Status)
	}
}

func TestReadDeniedWithoutCurrentRead(t *testing.T) {
	as := newFakeAS()
	node := uatype.NumericNodeId(1, 1)
	as.nodes[node] = services.NodeInfo{Class: uatype.NodeClassVariable}
	as.vals[node] = uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(5)}}

	res := services.Read(services.ReadContext{AddressSpace: as, AuthN: allowAuthN{}}, []services.ReadValueId{
		{Node: node, Attr: uatype.AttributeValue},
	})
	if res[0].Status != cmn.BadUserAccessDenied {
		t.Fatalf("expected BadUserAccessDenied, got %v", res[0].Status)
	}
}

func TestReadSucceedsWithValue(t *testing.T) {
	as := newFakeAS()
	node := uatype.NumericNodeId(1, 1)
	as.nodes[node] = services.NodeInfo{Class: uatype.NodeClassVariable, AccessLevel: uatype.AccessCurrentRead}
	as.vals[node] = uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(5)}}

	res := services.Read(services.ReadContext{AddressSpace: as, AuthN: allowAuthN{}}, []services.ReadValueId{
		{Node: node, Attr: uatype.AttributeValue},
	})
	if res[0].Status != cmn.Good || res[0].Value.Value.Value != int64(5) {
		t.Fatalf("expected Good read of value 5, got status=%v value=%v", res[0].Status, res[0].Value)
	}
}

package testaddrspace_test

import (
	"testing"

	"github.com/duskforge/opcuacore/authz"
	"github.com/duskforge/opcuacore/internal/testaddrspace"
	"github.com/duskforge/opcuacore/services"
	"github.com/duskforge/opcuacore/uatype"
)

func TestResolveAndWriteRoundTrip(t *testing.T) {
	store, err := testaddrspace.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	node := uatype.NumericNodeId(2, 10)
	if err := store.AddVariable(node, uatype.TypeInt32, uatype.ValueRankScalar, uatype.AccessCurrentRead|uatype.AccessCurrentWrite); err != nil {
		t.Fatalf("AddVariable: %v", err)
	}

	info, ok := store.Resolve(node)
	if !ok || info.Class != uatype.NodeClassVariable {
		t.Fatalf("expected resolvable Variable node, got %+v ok=%v", info, ok)
	}

	res := services.Write(services.WriteContext{AddressSpace: store, AuthN: allowAll{}}, []services.WriteValue{
		{Node: node, Attr: uatype.AttributeValue, Value: uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(7)}}},
	})
	if !res.ServiceStatus.IsGood() {
		t.Fatalf("expected successful write, got %v", res.ItemStatus)
	}

	dv, ok := store.ReadValue(node)
	if !ok || dv.Value.Value.(int64) != 7 {
		t.Fatalf("expected stored value 7, got %+v ok=%v", dv, ok)
	}
}

func TestBrowseReturnsStoredReferences(t *testing.T) {
	store, err := testaddrspace.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	root := uatype.NumericNodeId(0, 1)
	child := uatype.NumericNodeId(0, 2)
	if err := store.AddReference(root, testaddrspace.NewForwardRef(child, "Child")); err != nil {
		t.Fatalf("AddReference: %v", err)
	}

	refs, err := services.Browse(store, root)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(refs) != 1 || refs[0].BrowseName != "Child" {
		t.Fatalf("expected one Child reference, got %+v", refs)
	}
}

type allowAll struct{}

func (allowAll) IsAuthorized(uatype.PermissionSet, uatype.NodeId, uatype.AttributeId, string) bool {
	return true
}

var _ authz.AuthN = allowAll{}

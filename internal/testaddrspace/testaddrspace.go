// Package testaddrspace is an in-memory AddressSpace test double backed by
// tidwall/buntdb, indexed by NodeId string so Browse can range-scan a
// node's references cheaply (SPEC_FULL §4.G). It exists only to exercise
// services/dispatch/session integration tests; it is not part of the
// public API any real host would use.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package testaddrspace

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/duskforge/opcuacore/services"
	"github.com/duskforge/opcuacore/uatype"
)

const (
	nodePrefix = "node:"
	valPrefix  = "val:"
	refPrefix  = "ref:"
)

type nodeRecord struct {
	Class       int
	DataType    int
	ValueRank   int
	AccessLevel uint8
}

type valRecord struct {
	Type   int
	Int    int64
	Str    string
	Bytes  []byte
	Status uint32
}

type refRecord struct {
	IsForward bool
	Target    string
	TargetNS  uint16
	TargetNum uint32
	BrowseName string
}

// Store is the buntdb-backed AddressSpace test double.
type Store struct {
	db *buntdb.DB
}

// Open creates an in-memory store (":memory:" never touches disk, matching
// spec.md §6's file-abstinence rule even for this test helper).
func Open() (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(prefix string, n uatype.NodeId) string {
	return prefix + n.String()
}

// AddVariable registers a Variable node with the given data type/rank/
// access-level, for Write/Read tests.
func (s *Store) AddVariable(node uatype.NodeId, dt uatype.BuiltinType, rank uatype.ValueRank, access uatype.AccessLevel) error {
	rec := nodeRecord{Class: int(uatype.NodeClassVariable), DataType: int(dt), ValueRank: int(rank), AccessLevel: uint8(access)}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(nodePrefix, node), string(data), nil)
		return err
	})
}

// NewForwardRef builds the refRecord for a forward reference to target,
// for use with AddReference.
func NewForwardRef(target uatype.NodeId, browseName string) refRecord {
	return refRecord{
		IsForward:  true,
		Target:     target.String(),
		TargetNS:   target.Namespace,
		TargetNum:  target.Numeric,
		BrowseName: browseName,
	}
}

// NewInverseRef builds the refRecord for an inverse (backward) reference.
func NewInverseRef(target uatype.NodeId, browseName string) refRecord {
	ref := NewForwardRef(target, browseName)
	ref.IsForward = false
	return ref
}

// AddReference registers one forward (or backward) reference between
// nodes, for Browse/TranslateBrowsePath tests.
func (s *Store) AddReference(from uatype.NodeId, ref refRecord) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ref)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf("%s%s:%s", refPrefix, from.String(), ref.Target), string(data), nil)
		return err
	})
}

// --- services.AddressSpace ---

func (s *Store) Resolve(node uatype.NodeId) (services.NodeInfo, bool) {
	var rec nodeRecord
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key(nodePrefix, node))
		if err != nil {
			return nil
		}
		if jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(val, &rec) == nil {
			found = true
		}
		return nil
	})
	if !found {
		return services.NodeInfo{}, false
	}
	return services.NodeInfo{
		Class:       uatype.NodeClass(rec.Class),
		DataType:    uatype.BuiltinType(rec.DataType),
		ValueRank:   uatype.ValueRank(rec.ValueRank),
		AccessLevel: uatype.AccessLevel(rec.AccessLevel),
	}, true
}

func (s *Store) ReadValue(node uatype.NodeId) (uatype.DataValue, bool) {
	var rec valRecord
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key(valPrefix, node))
		if err != nil {
			return nil
		}
		if jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(val, &rec) == nil {
			found = true
		}
		return nil
	})
	if !found {
		return uatype.DataValue{}, false
	}
	var value any
	switch uatype.BuiltinType(rec.Type) {
	case uatype.TypeString:
		value = rec.Str
	case uatype.TypeByteString:
		value = rec.Bytes
	default:
		value = rec.Int
	}
	return uatype.DataValue{
		Value:  uatype.Variant{Type: uatype.BuiltinType(rec.Type), Value: value},
		Status: uatype.StatusCode(rec.Status),
	}, true
}

func (s *Store) WriteValue(node uatype.NodeId, dv uatype.DataValue, _ uatype.IndexRange) error {
	rec := valRecord{Type: int(dv.Value.Type), Status: uint32(dv.Status)}
	switch v := dv.Value.Value.(type) {
	case string:
		rec.Str = v
	case []byte:
		rec.Bytes = v
	case int64:
		rec.Int = v
	case []any:
		// Byte arrays converted from ByteString land here as []any; pack
		// back down for storage.
		b := make([]byte, len(v))
		for i, e := range v {
			if n, ok := e.(int64); ok {
				b[i] = byte(n)
			}
		}
		rec.Bytes = b
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(valPrefix, node), string(data), nil)
		return err
	})
}

// numericWidth/numericSigned classify the built-in integer types by bit
// width and signedness so IsSubtype can recognize "simple numeric subtype"
// widening (spec.md §4.G point 3) alongside exact equality.
var numericWidth = map[uatype.BuiltinType]int{
	uatype.TypeSByte: 8, uatype.TypeInt16: 16, uatype.TypeInt32: 32, uatype.TypeInt64: 64,
	uatype.TypeByte: 8, uatype.TypeUInt16: 16, uatype.TypeUInt32: 32, uatype.TypeUInt64: 64,
}

var numericSigned = map[uatype.BuiltinType]bool{
	uatype.TypeSByte: true, uatype.TypeInt16: true, uatype.TypeInt32: true, uatype.TypeInt64: true,
}

func (s *Store) IsSubtype(sub, super uatype.BuiltinType) bool {
	if sub == super {
		return true
	}
	if sub == uatype.TypeFloat && super == uatype.TypeDouble {
		return true
	}
	subW, subOK := numericWidth[sub]
	superW, superOK := numericWidth[super]
	if !subOK || !superOK || subW > superW {
		return false
	}
	return numericSigned[sub] == numericSigned[super]
}

func (s *Store) NodeRolePermissions(uatype.NodeId) ([]uatype.RolePermission, bool) { return nil, false }

func (s *Store) NamespaceDefaultRolePermissions(uint16) ([]uatype.RolePermission, bool) { return nil, false }

// --- services.Browsable ---

func (s *Store) References(node uatype.NodeId) ([]services.ReferenceDescription, error) {
	var out []services.ReferenceDescription
	prefix := fmt.Sprintf("%s%s:", refPrefix, node.String())
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(k, v string) bool {
			var ref refRecord
			if jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(v, &ref) != nil {
				return true
			}
			out = append(out, services.ReferenceDescription{
				IsForward:  ref.IsForward,
				Target:     uatype.NumericNodeId(ref.TargetNS, ref.TargetNum),
				BrowseName: ref.BrowseName,
			})
			return true
		})
	})
	return out, err
}

var _ services.AddressSpace = (*Store)(nil)
var _ services.Browsable = (*Store)(nil)

// Package uatype defines the OPC UA built-in value types, NodeId, Variant,
// and DataValue shared by the codec, the session/service layers, and the
// address-space interface (spec.md §3, §6).
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package uatype

import "fmt"

// NodeIdType distinguishes the identifier encoding carried by a NodeId.
type NodeIdType int

const (
	NodeIdNumeric NodeIdType = iota
	NodeIdString
	NodeIdGUID
	NodeIdOpaque
)

// NodeId identifies a node in the address space: a namespace index plus one
// of four identifier shapes.
type NodeId struct {
	Namespace uint16
	IDType    NodeIdType
	Numeric   uint32
	Str       string
	Bytes     string // GUID/opaque identifier bytes; a string keeps NodeId comparable
}

func (n NodeId) String() string {
	switch n.IDType {
	case NodeIdNumeric:
		return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
	case NodeIdString:
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.Str)
	case NodeIdGUID:
		return fmt.Sprintf("ns=%d;g=%x", n.Namespace, n.Bytes)
	default:
		return fmt.Sprintf("ns=%d;b=%x", n.Namespace, n.Bytes)
	}
}

func (n NodeId) Equal(o NodeId) bool {
	if n.Namespace != o.Namespace || n.IDType != o.IDType {
		return false
	}
	switch n.IDType {
	case NodeIdNumeric:
		return n.Numeric == o.Numeric
	case NodeIdString:
		return n.Str == o.Str
	default:
		return string(n.Bytes) == string(o.Bytes)
	}
}

// NumericNodeId is the common case: a namespace-0 or namespace-qualified
// integer identifier, e.g. the well-known Server_ServerStatus_State node.
func NumericNodeId(ns uint16, id uint32) NodeId {
	return NodeId{Namespace: ns, IDType: NodeIdNumeric, Numeric: id}
}

// BuiltinType enumerates the OPC UA built-in scalar type ids relevant to the
// Write/Read type-check rules of spec.md §4.G.
type BuiltinType int

const (
	TypeBoolean BuiltinType = iota + 1
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeGUID
	TypeByteString
	TypeXMLElement
	TypeNodeId
	TypeExpandedNodeId
	TypeStatusCode
	TypeQualifiedName
	TypeLocalizedText
	TypeExtensionObject
	TypeDataValue
	TypeVariant
	TypeDiagnosticInfo
	TypeEnumeration // represented on the wire as Int32
)

// ValueRank follows OPC UA's convention: -1 scalar, 0 any, 1 one-dim, n
// n-dim. It forms the partial order referenced in spec.md §4.G point 3.
type ValueRank int

const (
	ValueRankScalar ValueRank = -1
	ValueRankAny    ValueRank = 0
	ValueRankOneDim ValueRank = 1
)

// Satisfies reports whether a source value of rank `src` may be written
// into a target declared with rank `target`, per the partial order: Any
// accepts everything, a target of rank n only accepts sources of exactly
// that rank (except scalar sources may widen into rank-0/any targets).
func (target ValueRank) Satisfies(src ValueRank) bool {
	if target == ValueRankAny {
		return true
	}
	return target == src
}

// Variant is a tagged union of a built-in type and its value(s). Arrays are
// represented with Dims set (nil/empty Dims means scalar).
type Variant struct {
	Type  BuiltinType
	Value any // concrete Go value: bool, int64, float64, string, []byte, []any, ...
	Dims  []int32
}

func (v Variant) IsScalar() bool { return len(v.Dims) == 0 }

// AccessLevel is a bitmask over a Variable node's permitted attribute
// access (spec.md §4.G point 4).
type AccessLevel uint8

const (
	AccessCurrentRead AccessLevel = 1 << iota
	AccessCurrentWrite
	AccessHistoryRead
	AccessHistoryWrite
	AccessSemanticChange
	AccessStatusWrite
	AccessTimestampWrite
)

func (a AccessLevel) Has(bit AccessLevel) bool { return a&bit != 0 }

// AttributeId enumerates the attributes relevant to Read/Write (spec.md
// §4.G); values match the standard OPC UA attribute-id assignment for the
// subset this toolkit touches, plus two internal sub-attribute ids used
// only within DataValue write/read plumbing (StatusCode, SourceTimestamp).
type AttributeId uint32

const (
	AttributeNodeId          AttributeId = 1
	AttributeNodeClass       AttributeId = 2
	AttributeBrowseName      AttributeId = 3
	AttributeDisplayName     AttributeId = 4
	AttributeValue           AttributeId = 13
	AttributeDataType        AttributeId = 14
	AttributeValueRank       AttributeId = 15
	AttributeAccessLevel     AttributeId = 17
	AttributeUserAccessLevel AttributeId = 18
	AttributeStatusCode      AttributeId = 1013 // internal: DataValue sub-attribute, not a real OPC UA attribute id
	AttributeSourceTimestamp AttributeId = 1014
)

// NodeClass enumerates the node kinds relevant to "only Value of a
// Variable is writable" (spec.md §4.G point 2).
type NodeClass int

const (
	NodeClassObject NodeClass = iota + 1
	NodeClassVariable
	NodeClassMethod
	NodeClassObjectType
	NodeClassVariableType
	NodeClassReferenceType
	NodeClassDataType
	NodeClassView
)

// IndexRange is a parsed OPC UA IndexRange string ("lo:hi" or "lo"),
// applicable only to the Value attribute (spec.md §4.G point 3).
type IndexRange struct {
	Set      bool
	Low, High int64 // High == Low when a single index was given
}

func (r IndexRange) IsRange() bool { return r.Set && r.High > r.Low }

// DataValue bundles a Variant with its status and timestamps (spec.md §3).
type DataValue struct {
	Value            Variant
	Status           StatusCode
	SourceTimestamp  int64 // 100ns ticks since 1601-01-01
	ServerTimestamp  int64
}

// StatusCode mirrors cmn.StatusCode's representation to avoid an import
// cycle between uatype and cmn; cmn.StatusCode values convert directly.
type StatusCode uint32

const (
	Good            StatusCode = 0x00000000
	GoodButInvalid  StatusCode = 0x009A0000 // "Good but invalid state" used for missing attributes, per spec.md §4.G
	UncertainStatus StatusCode = 0x40000000
)

// RolePermission grants a bitmask of operations to a named role.
type RolePermission struct {
	Role        string
	Permissions PermissionSet
}

// PermissionSet is the bitfield over operations described in spec.md §3.
type PermissionSet uint32

const (
	PermRead PermissionSet = 1 << iota
	PermWrite
	PermCall
	PermAddNode
	PermReceiveEvents
	PermBrowse
)

func (p PermissionSet) Has(op PermissionSet) bool { return p&op != 0 }

// Package services implements the Read/Write service handlers against the
// Address Space (spec.md §4.G), plus Browse/TranslateBrowsePath/Call
// handlers supplemented from the original implementation's representative
// services (SPEC_FULL §4.G).
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package services

import "github.com/duskforge/opcuacore/uatype"

// NodeInfo is the subset of node metadata the Write/Read algorithms consult
// (spec.md §4.G). The address space itself is an opaque host-supplied
// store (spec.md §1 "Deliberately out of scope"); this is the narrow query
// surface the core requires of it.
type NodeInfo struct {
	Class       uatype.NodeClass
	DataType    uatype.BuiltinType
	ValueRank   uatype.ValueRank
	AccessLevel uatype.AccessLevel
}

// AddressSpace is the host-supplied node store (spec.md §6). The core never
// persists node state itself.
type AddressSpace interface {
	Resolve(node uatype.NodeId) (NodeInfo, bool)
	ReadValue(node uatype.NodeId) (uatype.DataValue, bool)
	WriteValue(node uatype.NodeId, dv uatype.DataValue, rng uatype.IndexRange) error
	// IsSubtype reports whether `sub` is `super` or a transitive subtype of
	// it (spec.md §4.G point 3 "transitive subtype").
	IsSubtype(sub, super uatype.BuiltinType) bool
	NodeRolePermissions(node uatype.NodeId) ([]uatype.RolePermission, bool)
	NamespaceDefaultRolePermissions(namespace uint16) ([]uatype.RolePermission, bool)
}

// ReferenceDescription is one edge returned by Browse (SPEC_FULL §4.G).
type ReferenceDescription struct {
	ReferenceType uatype.NodeId
	IsForward     bool
	Target        uatype.NodeId
	BrowseName    string
	DisplayName   string
	TargetClass   uatype.NodeClass
}

// Browsable is the narrower interface Browse/TranslateBrowsePath need,
// kept separate from AddressSpace so a minimal Read/Write-only host isn't
// forced to implement tree navigation (SPEC_FULL §4.G).
type Browsable interface {
	References(node uatype.NodeId) ([]ReferenceDescription, error)
}

// MethodCallManager dispatches a Call service request to the host
// application (spec.md §6).
type MethodCallManager interface {
	Call(object, method uatype.NodeId, args []uatype.Variant) ([]uatype.Variant, error)
}

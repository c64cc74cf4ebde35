// Package authz implements the authorization engine (spec.md §4.H): a pure,
// side-effect-free merge of a user's session roles against a node's (or its
// namespace's default) RolePermissions list. The merge is strictly
// additive; there is no deny semantics beyond "not granted".
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package authz

import "github.com/duskforge/opcuacore/uatype"

// AuthN is the host-supplied basic authentication-layer check (spec.md §6
// `UserAuthZ`): "is this (user, op, node, attr) combination even
// plausible", independent of RolePermissions.
type AuthN interface {
	IsAuthorized(op uatype.PermissionSet, node uatype.NodeId, attr uatype.AttributeId, user string) bool
}

// RolePermissionSource resolves the explicit RolePermissions list for a
// node, falling back to a namespace default (spec.md §4.H).
type RolePermissionSource interface {
	NodeRolePermissions(node uatype.NodeId) ([]uatype.RolePermission, bool)
	NamespaceDefaultRolePermissions(namespace uint16) ([]uatype.RolePermission, bool)
}

// Request bundles the (user, roles, node, attribute, operationType) tuple
// from spec.md §4.H.
type Request struct {
	Op                  uatype.PermissionSet
	Node                uatype.NodeId
	Attr                uatype.AttributeId
	User                string
	Roles               []string
	LocalServiceTreatment bool
}

// Authorize returns true iff the operation is authorized, computed exactly
// per the spec.md §4.H algorithm: local service treatments always pass;
// otherwise basic authentication must pass, then permissions are the union
// across the user's roles of whatever that role is granted by the
// applicable RolePermissions list (node's own, else its namespace's
// default, else — if neither exists — basicOk alone decides).
func Authorize(authn AuthN, perms RolePermissionSource, req Request) bool {
	if req.LocalServiceTreatment {
		return true
	}
	if !authn.IsAuthorized(req.Op, req.Node, req.Attr, req.User) {
		return false
	}

	list, ok := perms.NodeRolePermissions(req.Node)
	if !ok {
		list, ok = perms.NamespaceDefaultRolePermissions(req.Node.Namespace)
		if !ok {
			return true // basicOk alone decides, per spec.md §4.H
		}
	}

	var granted uatype.PermissionSet
	for _, role := range req.Roles {
		for _, rp := range list {
			if rp.Role == role {
				granted |= rp.Permissions
			}
		}
	}
	return granted.Has(req.Op)
}

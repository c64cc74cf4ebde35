package services

import (
	"strings"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/uatype"
)

// Browse walks the forward references from startNode, as permitted by
// spec.md §1 point 4 ("Browse" is named as a representative service but not
// itemized in spec.md §4.G; supplemented here from the original
// implementation's translate_browse_path/browse iterators, SPEC_FULL
// §4.G).
func Browse(bs Browsable, startNode uatype.NodeId) ([]ReferenceDescription, error) {
	refs, err := bs.References(startNode)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindService, cmn.BadNodeIdUnknown, err, "browse %s", startNode)
	}
	out := make([]ReferenceDescription, 0, len(refs))
	for _, r := range refs {
		if r.IsForward {
			out = append(out, r)
		}
	}
	return out, nil
}

// RelativePathElement is one hop of a BrowsePath, matched by BrowseName
// (spec.md's TranslateBrowsePath is named but not detailed; this mirrors
// the original's translate_browse_path_1.c element-by-element walk: resolve
// one relative path element against the current node's forward references,
// advancing only on an exact BrowseName match).
type RelativePathElement struct {
	ReferenceType uatype.NodeId
	BrowseName    string
}

// TranslateBrowsePath walks a sequence of RelativePathElements from
// startNode, returning the resolved target NodeId or BadNodeIdUnknown at
// the first element with no matching reference (original's
// translate_browse_path_1.c: one element consumed per iteration, folding a
// "not found" into an immediate stop rather than a partial result).
func TranslateBrowsePath(bs Browsable, startNode uatype.NodeId, path []RelativePathElement) (uatype.NodeId, error) {
	current := startNode
	for _, elem := range path {
		refs, err := bs.References(current)
		if err != nil {
			return uatype.NodeId{}, cmn.WrapError(cmn.KindService, cmn.BadNodeIdUnknown, err, "browse path at %s", current)
		}
		found := false
		for _, r := range refs {
			if r.IsForward && strings.EqualFold(r.BrowseName, elem.BrowseName) {
				current = r.Target
				found = true
				break
			}
		}
		if !found {
			return uatype.NodeId{}, cmn.NewError(cmn.KindService, cmn.BadNodeIdUnknown, "no reference named %q from %s", elem.BrowseName, current)
		}
	}
	return current, nil
}

// CallRequest is one item of a Call service request (SPEC_FULL §4.G,
// grounded on the original's call_method_result_it.c).
type CallRequest struct {
	ObjectId uatype.NodeId
	MethodId uatype.NodeId
	Args     []uatype.Variant
}

// CallResult is one item's outcome.
type CallResult struct {
	Status     cmn.StatusCode
	OutputArgs []uatype.Variant
}

// Call dispatches each CallRequest to the host-supplied MethodCallManager,
// mirroring the original's call_method_result_it.c one-result-per-request
// iteration, without performing any argument validation itself (that is the
// host application's responsibility, per spec.md §6's narrow injected
// interfaces).
func Call(mgr MethodCallManager, reqs []CallRequest) []CallResult {
	out := make([]CallResult, len(reqs))
	for i, req := range reqs {
		results, err := mgr.Call(req.ObjectId, req.MethodId, req.Args)
		if err != nil {
			out[i] = CallResult{Status: cmn.StatusOf(err)}
			continue
		}
		out[i] = CallResult{Status: cmn.Good, OutputArgs: results}
	}
	return out
}

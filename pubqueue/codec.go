package pubqueue

import (
	"github.com/duskforge/opcuacore/codec"
	"github.com/duskforge/opcuacore/uatype"
)

// encodeForRetransmit/decodeRetransmit serialize just enough of a
// Notification to survive a Republish round trip through the LZ4-
// compressed ring. This is an internal ring format, not the OPC UA wire
// encoding (that's codec's job for the actual NotificationMessage sent to
// the peer); it only needs to be stable within one process's lifetime.
func encodeForRetransmit(n Notification) []byte {
	buf := make([]byte, 0, 32)
	buf = codec.PutUint32(buf, uint32(n.Node.Namespace))
	buf = codec.PutUint32(buf, n.Node.Numeric)
	buf = codec.PutUint32(buf, uint32(n.Attr))
	buf = codec.PutUint32(buf, uint32(n.Value.Status))
	val, _ := n.Value.Value.Value.(int64)
	buf = codec.PutInt32(buf, int32(val))
	return buf
}

func decodeRetransmit(raw []byte, seq uint32) Notification {
	r := codec.NewReader(raw)
	ns, _ := r.GetUint32()
	numeric, _ := r.GetUint32()
	attr, _ := r.GetUint32()
	status, _ := r.GetUint32()
	val, _ := r.GetInt32()
	return Notification{
		SequenceNumber: seq,
		Node:           uatype.NodeId{Namespace: uint16(ns), IDType: uatype.NodeIdNumeric, Numeric: numeric},
		Attr:           uatype.AttributeId(attr),
		Value: uatype.DataValue{
			Value:  uatype.Variant{Type: uatype.TypeInt32, Value: int64(val)},
			Status: uatype.StatusCode(status),
		},
	}
}

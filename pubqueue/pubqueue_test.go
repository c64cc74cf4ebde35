package pubqueue_test

import (
	"testing"

	"github.com/duskforge/opcuacore/pubqueue"
	"github.com/duskforge/opcuacore/uatype"
)

func TestPublishEmitsOnlyWhenNotificationOrKeepAliveDue(t *testing.T) {
	sub := pubqueue.New(1, 10, 4, 3)

	sub.QueuePublishRequest()
	out, err := sub.Publish()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no response yet: no notification queued and keep-alive not due, got %+v", out)
	}
}

func TestSequenceNumberIncrementsOnlyForRealNotifications(t *testing.T) {
	sub := pubqueue.New(1, 10, 4, 100)
	node := uatype.NumericNodeId(1, 1)

	sub.OnDataChange(node, uatype.AttributeValue, uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(1)}})
	sub.QueuePublishRequest()
	out, err := sub.Publish()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out == nil || out.Notification == nil || out.Notification.SequenceNumber != 1 {
		t.Fatalf("expected first notification seq=1, got %+v", out)
	}

	sub.OnDataChange(node, uatype.AttributeValue, uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(2)}})
	sub.QueuePublishRequest()
	out2, err := sub.Publish()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out2.Notification.SequenceNumber != 2 {
		t.Fatalf("expected second notification seq=2, got %d", out2.Notification.SequenceNumber)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	sub := pubqueue.New(1, 2, 4, 100)
	node := uatype.NumericNodeId(1, 1)
	for i := 0; i < 5; i++ {
		sub.OnDataChange(node, uatype.AttributeValue, uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(i)}})
	}
	if sub.DroppedCount() != 3 {
		t.Fatalf("expected 3 dropped (5 queued, cap 2), got %d", sub.DroppedCount())
	}
}

func TestRepublishRoundTripsThroughTheCompressedRing(t *testing.T) {
	sub := pubqueue.New(1, 10, 4, 100)
	node := uatype.NumericNodeId(2, 55)

	sub.OnDataChange(node, uatype.AttributeValue, uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(42)}})
	sub.QueuePublishRequest()
	out, err := sub.Publish()
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	seq := out.Notification.SequenceNumber

	got, err := sub.Republish(seq)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if got.Node.Numeric != 55 || got.Node.Namespace != 2 {
		t.Fatalf("expected republished node to match original, got %+v", got.Node)
	}
	if got.Value.Value.Value.(int64) != 42 {
		t.Fatalf("expected republished value 42, got %v", got.Value.Value.Value)
	}
}

func TestLatePublishBackpressureClosesSubscription(t *testing.T) {
	sub := pubqueue.New(1, 10, 4, 1) // maxKeepAliveCount=1 -> late threshold = 3
	node := uatype.NumericNodeId(1, 1)
	sub.OnDataChange(node, uatype.AttributeValue, uatype.DataValue{Value: uatype.Variant{Type: uatype.TypeInt32, Value: int64(1)}})

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = sub.Publish() // no Publish request queued: notification stays, lateCounter climbs
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected the subscription to close with BadTimeout once the late threshold is exceeded")
	}
}

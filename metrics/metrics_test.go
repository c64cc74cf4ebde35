package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duskforge/opcuacore/metrics"
)

func TestNewRegistersAllMetricsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.LiveChannels.Set(3)
	m.DroppedNotifications.WithLabelValues("1").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

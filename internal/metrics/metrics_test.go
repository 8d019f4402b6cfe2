package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("SessionsCreatedTotal", func(t *testing.T) {
		before := testutil.ToFloat64(SessionsCreatedTotal)
		SessionsCreatedTotal.Inc()
		after := testutil.ToFloat64(SessionsCreatedTotal)
		if after != before+1 {
			t.Errorf("expected SessionsCreatedTotal to increment by 1, got %v -> %v", before, after)
		}
	})

	t.Run("SessionStateTransitions", func(t *testing.T) {
		SessionStateTransitions.WithLabelValues("Ready").Inc()
		val := testutil.ToFloat64(SessionStateTransitions.WithLabelValues("Ready"))
		if val < 1 {
			t.Errorf("expected SessionStateTransitions{Ready} to be at least 1, got %v", val)
		}
	})

	t.Run("EventBusDropped", func(t *testing.T) {
		EventBusDropped.WithLabelValues("global").Inc()
		val := testutil.ToFloat64(EventBusDropped.WithLabelValues("global"))
		if val < 1 {
			t.Errorf("expected EventBusDropped{global} to be at least 1, got %v", val)
		}
	})

	t.Run("JoinDispatchDuration", func(t *testing.T) {
		JoinDispatchDuration.WithLabelValues("ready").Observe(1.5)
	})

	t.Run("RTCGatewayCalls", func(t *testing.T) {
		RTCGatewayCalls.WithLabelValues("create_room", "ok").Inc()
		val := testutil.ToFloat64(RTCGatewayCalls.WithLabelValues("create_room", "ok"))
		if val < 1 {
			t.Errorf("expected RTCGatewayCalls{create_room,ok} to be at least 1, got %v", val)
		}
	})
}

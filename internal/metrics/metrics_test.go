package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrameIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(FramesReceivedTotal.WithLabelValues("DataMessage"))
	RecordFrame("DataMessage")
	after := testutil.ToFloat64(FramesReceivedTotal.WithLabelValues("DataMessage"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordDispatchErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(FrameDispatchErrorsTotal.WithLabelValues("conflict"))
	RecordDispatchError("conflict")
	after := testutil.ToFloat64(FrameDispatchErrorsTotal.WithLabelValues("conflict"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordAvatarEventIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(AvatarEventsTotal.WithLabelValues("reaped"))
	RecordAvatarEvent("reaped")
	after := testutil.ToFloat64(AvatarEventsTotal.WithLabelValues("reaped"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordMasterRPCIncrementsErrorCounterOnlyOnFailure(t *testing.T) {
	beforeErr := testutil.ToFloat64(MasterRPCErrorsTotal.WithLabelValues("createNamespace"))

	RecordMasterRPC("createNamespace", 5*time.Millisecond, nil)
	afterSuccess := testutil.ToFloat64(MasterRPCErrorsTotal.WithLabelValues("createNamespace"))
	if afterSuccess != beforeErr {
		t.Errorf("expected error counter unchanged on success, got %v -> %v", beforeErr, afterSuccess)
	}

	RecordMasterRPC("createNamespace", 5*time.Millisecond, errors.New("boom"))
	afterFailure := testutil.ToFloat64(MasterRPCErrorsTotal.WithLabelValues("createNamespace"))
	if afterFailure != beforeErr+1 {
		t.Errorf("expected error counter incremented on failure, got %v -> %v", beforeErr, afterFailure)
	}
}

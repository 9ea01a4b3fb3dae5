package iface

import "testing"

func TestNewHandlePicksForwarderForForwarderCodes(t *testing.T) {
	codes := []TypeCode{
		TypeServiceClientForwarder, TypePublisherForwarder,
		TypeSubscriberForwarder, TypeServiceProviderForwarder,
	}
	for _, code := range codes {
		h := NewHandle("t", code, func(tag string, data map[string]interface{}) error { return nil })
		if _, ok := h.(*forwarderHandle); !ok {
			t.Errorf("NewHandle(%v) = %T, want *forwarderHandle", code, h)
		}
	}
}

func TestNewHandlePicksConverterForConverterCodes(t *testing.T) {
	codes := []TypeCode{
		TypeServiceClientConverter, TypePublisherConverter,
		TypeSubscriberConverter, TypeServiceProviderConverter,
	}
	for _, code := range codes {
		h := NewHandle("t", code, func(tag string, data map[string]interface{}) error { return nil })
		if _, ok := h.(*converterHandle); !ok {
			t.Errorf("NewHandle(%v) = %T, want *converterHandle", code, h)
		}
	}
}

func TestForwarderHandleEchoesDataUnchanged(t *testing.T) {
	var got map[string]interface{}
	h := NewHandle("cmd_vel", TypePublisherForwarder, func(tag string, data map[string]interface{}) error {
		got = data
		return nil
	})
	in := map[string]interface{}{"x": 1.0}
	if err := h.Receive(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, tagged := got["_convertedVia"]; tagged {
		t.Errorf("forwarder should not tag data with a conversion marker")
	}
	if got["x"] != 1.0 {
		t.Errorf("expected forwarded data to be unchanged, got %v", got)
	}
}

func TestConverterHandleTagsDataWithItsCode(t *testing.T) {
	var got map[string]interface{}
	h := NewHandle("cmd_vel", TypeSubscriberConverter, func(tag string, data map[string]interface{}) error {
		got = data
		return nil
	})
	if err := h.Receive(map[string]interface{}{"x": 1.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["_convertedVia"] != TypeSubscriberConverter.String() {
		t.Errorf("expected conversion marker %q, got %v", TypeSubscriberConverter.String(), got["_convertedVia"])
	}
}

func TestIsConverterAndIsForwarderPartitionAllCodes(t *testing.T) {
	all := []TypeCode{
		TypeServiceClientConverter, TypePublisherConverter, TypeSubscriberConverter, TypeServiceProviderConverter,
		TypeServiceClientForwarder, TypePublisherForwarder, TypeSubscriberForwarder, TypeServiceProviderForwarder,
	}
	for _, code := range all {
		if IsConverter(code) == IsForwarder(code) {
			t.Errorf("%v: IsConverter and IsForwarder must disagree, got %v and %v", code, IsConverter(code), IsForwarder(code))
		}
	}
}

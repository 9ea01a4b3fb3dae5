package iface

// SendFunc delivers a DataMessage's payload back out to the client that
// owns the session this handle belongs to. Handles call it from within
// Receive when a message on their tag should be echoed or forwarded;
// the avatar session supplies the implementation.
type SendFunc func(tag string, data map[string]interface{}) error

// Handle is the behavior attached to one named interface tag on an
// avatar session. What a handle actually does with a message —
// transcoding it onto a message bus, bridging it to another transport,
// driving hardware — is outside this repo's scope (spec §1 Non-goals);
// what's implemented here is the registry and lifecycle contract every
// handle participates in, tagged by the Converter/Forwarder discriminator
// the type code carries (spec §9).
type Handle interface {
	// Receive is called with the "data" field of a DataMessage routed
	// to this handle's tag.
	Receive(data map[string]interface{}) error

	// Destroy releases any resources the handle holds. It is called at
	// most once, when the owning tag is removed or the session is
	// destroyed.
	Destroy()
}

// forwarderHandle is the stub Handle for the four Forwarder codes: it
// passes received data straight back out to the client unchanged. Real
// deployments replace this with one that actually bridges to another
// transport; this repo only needs the contract exercised end to end.
type forwarderHandle struct {
	tag  string
	send SendFunc
}

func newForwarderHandle(tag string, send SendFunc) Handle {
	return &forwarderHandle{tag: tag, send: send}
}

func (h *forwarderHandle) Receive(data map[string]interface{}) error {
	if h.send == nil {
		return nil
	}
	return h.send(h.tag, data)
}

func (h *forwarderHandle) Destroy() {}

// converterHandle is the stub Handle for the four Converter codes. Real
// deployments replace this with one that transcodes to/from the robot
// middleware's native message format (spec §1 Non-goals); this stub
// marks that a conversion step ran by tagging the outgoing data with the
// code it converted through, so Converter and Forwarder are observably
// distinct rather than collapsing to the same behavior.
type converterHandle struct {
	tag  string
	code TypeCode
	send SendFunc
}

func newConverterHandle(tag string, code TypeCode, send SendFunc) Handle {
	return &converterHandle{tag: tag, code: code, send: send}
}

func (h *converterHandle) Receive(data map[string]interface{}) error {
	if h.send == nil {
		return nil
	}
	converted := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		converted[k] = v
	}
	converted["_convertedVia"] = h.code.String()
	return h.send(h.tag, converted)
}

func (h *converterHandle) Destroy() {}

// NewHandle builds the stub Handle appropriate for code: a converterHandle
// for the four Converter codes, a forwarderHandle for the four Forwarder
// codes. This is the tagged-variant factory keyed on the type code that
// spec §9 calls for.
func NewHandle(tag string, code TypeCode, send SendFunc) Handle {
	if IsConverter(code) {
		return newConverterHandle(tag, code, send)
	}
	return newForwarderHandle(tag, send)
}

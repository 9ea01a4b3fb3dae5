package server

import (
	"errors"
	"fmt"

	"github.com/meshbotics/gateway/internal/avatar"
	"github.com/meshbotics/gateway/internal/metrics"
	"github.com/meshbotics/gateway/internal/protocol"
)

// dispatch routes one decoded envelope to the session operation it
// names (spec §4.1's type table). Any error it returns is reported
// back to the robot as a text error frame by the caller; the
// connection is never closed because of it.
func dispatch(session *avatar.Session, env *protocol.Envelope) error {
	metrics.RecordFrame(string(env.Type))
	if err := dispatchByType(session, env); err != nil {
		metrics.RecordDispatchError(dispatchErrorKind(err))
		return err
	}
	return nil
}

func dispatchErrorKind(err error) string {
	switch {
	case errors.Is(err, avatar.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, avatar.ErrUnknownInterface):
		return "unknown_interface"
	case errors.Is(err, avatar.ErrConflict):
		return "conflict"
	case errors.Is(err, avatar.ErrDeadConnection):
		return "dead_connection"
	default:
		return "other"
	}
}

func dispatchByType(session *avatar.Session, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeCreateContainer:
		tag, err := stringField(env.Data, "containerTag")
		if err != nil {
			return err
		}
		return session.CreateContainer(tag)

	case protocol.TypeDestroyContainer:
		tag, err := stringField(env.Data, "containerTag")
		if err != nil {
			return err
		}
		return session.DestroyContainer(tag)

	case protocol.TypeConfigureComponent:
		return dispatchConfigureComponent(session, env.Data)

	case protocol.TypeConnectInterfaces:
		return dispatchConnectInterfaces(session, env.Data)

	case protocol.TypeConfigureInterfaceState:
		return dispatchConfigureInterfaceState(session, env.Data)

	case protocol.TypeDataMessage:
		_, err := session.ReceivedFromClient(env)
		return err

	default:
		return fmt.Errorf("%w: unrecognized type %q", avatar.ErrInvalidRequest, env.Type)
	}
}

func dispatchConfigureComponent(session *avatar.Session, data map[string]interface{}) error {
	for _, raw := range listField(data, "addNodes") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: addNodes entry must be an object", avatar.ErrInvalidRequest)
		}
		containerTag, _ := entry["containerTag"].(string)
		nodeTag, _ := entry["nodeTag"].(string)
		pkg, _ := entry["pkg"].(string)
		exe, _ := entry["exe"].(string)
		name, _ := entry["name"].(string)
		namespace, _ := entry["namespace"].(string)
		var args []string
		for _, a := range listField(entry, "args") {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
		if err := session.AddNode(containerTag, nodeTag, pkg, exe, args, name, namespace); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "removeNodes") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: removeNodes entry must be an object", avatar.ErrInvalidRequest)
		}
		containerTag, _ := entry["containerTag"].(string)
		nodeTag, _ := entry["nodeTag"].(string)
		if err := session.RemoveNode(containerTag, nodeTag); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "addInterfaces") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: addInterfaces entry must be an object", avatar.ErrInvalidRequest)
		}
		endpointTag, _ := entry["endpointTag"].(string)
		ifaceTag, _ := entry["ifaceTag"].(string)
		ifaceType, _ := entry["ifaceType"].(string)
		className, _ := entry["className"].(string)
		addr, _ := entry["addr"].(string)
		if err := session.AddInterface(endpointTag, ifaceTag, ifaceType, className, addr); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "removeInterfaces") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: removeInterfaces entry must be an object", avatar.ErrInvalidRequest)
		}
		endpointTag, _ := entry["endpointTag"].(string)
		ifaceTag, _ := entry["ifaceTag"].(string)
		if err := session.RemoveInterface(endpointTag, ifaceTag); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "setParam") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: setParam entry must be an object", avatar.ErrInvalidRequest)
		}
		containerTag, _ := entry["containerTag"].(string)
		name, _ := entry["name"].(string)
		if err := session.AddParameter(containerTag, name, entry["value"]); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "deleteParam") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: deleteParam entry must be an object", avatar.ErrInvalidRequest)
		}
		containerTag, _ := entry["containerTag"].(string)
		name, _ := entry["name"].(string)
		if err := session.RemoveParameter(containerTag, name); err != nil {
			return err
		}
	}
	return nil
}

func dispatchConnectInterfaces(session *avatar.Session, data map[string]interface{}) error {
	for _, raw := range listField(data, "connect") {
		tagA, tagB, err := pairField(raw)
		if err != nil {
			return err
		}
		if err := session.AddConnection(tagA, tagB); err != nil {
			return err
		}
	}
	for _, raw := range listField(data, "disconnect") {
		tagA, tagB, err := pairField(raw)
		if err != nil {
			return err
		}
		if err := session.RemoveConnection(tagA, tagB); err != nil {
			return err
		}
	}
	return nil
}

func dispatchConfigureInterfaceState(session *avatar.Session, data map[string]interface{}) error {
	for tag, raw := range data {
		active, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: interface state for %q must be a bool", avatar.ErrInvalidRequest, tag)
		}
		var err error
		if active {
			err = session.ActivateInterface(tag)
		} else {
			err = session.DeactivateInterface(tag)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func stringField(data map[string]interface{}, key string) (string, error) {
	v, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing or non-string field %q", avatar.ErrInvalidRequest, key)
	}
	return v, nil
}

func listField(data map[string]interface{}, key string) []interface{} {
	v, _ := data[key].([]interface{})
	return v
}

func pairField(raw interface{}) (string, string, error) {
	pair, ok := raw.([]interface{})
	if !ok || len(pair) != 2 {
		return "", "", fmt.Errorf("%w: connect/disconnect entry must be a 2-element array", avatar.ErrInvalidRequest)
	}
	tagA, okA := pair[0].(string)
	tagB, okB := pair[1].(string)
	if !okA || !okB {
		return "", "", fmt.Errorf("%w: connect/disconnect entry must contain strings", avatar.ErrInvalidRequest)
	}
	return tagA, tagB, nil
}

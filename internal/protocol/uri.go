package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// uriLength is the fixed length of a URI placeholder: 16 random bytes,
// hex-encoded.
const uriLength = 32

// Placeholder identifies one still-missing binary slot inside a parked
// control message: the 32-hex-char URI, the JSON object that owns the
// slot, and the key under which the payload will be installed (still
// carrying its trailing '*').
type Placeholder struct {
	URI    string
	Parent map[string]interface{}
	Key    string
}

// Blob is one binary payload discovered while walking an outbound
// message, paired with the URI minted for it.
type Blob struct {
	URI     string
	Payload []byte
}

// isPlaceholderKey reports whether key denotes a binary slot per the
// URI placeholder convention (§4.1): its last character is '*'.
func isPlaceholderKey(key string) bool {
	return len(key) > 0 && key[len(key)-1] == '*'
}

// isHexURI reports whether s looks like a 32-character hex URI.
func isHexURI(s string) bool {
	if len(s) != uriLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ScanPlaceholders walks data recursively and collects one Placeholder
// per key ending in '*' whose value is a 32-char hex URI string. Map
// keys are visited in sorted order so that, for messages with more than
// one placeholder, the result is deterministic across runs.
func ScanPlaceholders(data interface{}) []Placeholder {
	var out []Placeholder
	scanInto(data, &out)
	return out
}

func scanInto(node interface{}, out *[]Placeholder) {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := v[k]
			if isPlaceholderKey(k) {
				if uri, ok := val.(string); ok && isHexURI(uri) {
					*out = append(*out, Placeholder{URI: uri, Parent: v, Key: k})
					continue
				}
			}
			scanInto(val, out)
		}
	case []interface{}:
		for _, item := range v {
			scanInto(item, out)
		}
	}
}

// InstallBinary removes the placeholder key from its parent object and
// installs payload under the key stripped of its trailing '*'.
func InstallBinary(p Placeholder, payload []byte) {
	delete(p.Parent, p.Key)
	p.Parent[strings.TrimSuffix(p.Key, "*")] = payload
}

// GenerateURI mints a fresh random 32-character hex URI.
func GenerateURI() (string, error) {
	buf := make([]byte, uriLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate uri: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// WalkOutbound returns a deep copy of data with every []byte value
// replaced by a placeholder key/URI pair, plus the ordered list of
// blobs to send as binary frames after the text frame. Traversal
// visits map keys in sorted order so the blob order is deterministic.
func WalkOutbound(data interface{}) (interface{}, []Blob, error) {
	var blobs []Blob
	sanitized, err := walkOutboundInto(data, &blobs)
	if err != nil {
		return nil, nil, err
	}
	return sanitized, blobs, nil
}

func walkOutboundInto(node interface{}, blobs *[]Blob) (interface{}, error) {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]interface{}, len(v))
		for _, k := range keys {
			val := v[k]
			if blob, ok := val.([]byte); ok {
				uri, err := GenerateURI()
				if err != nil {
					return nil, err
				}
				out[k+"*"] = uri
				*blobs = append(*blobs, Blob{URI: uri, Payload: blob})
				continue
			}
			converted, err := walkOutboundInto(val, blobs)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			converted, err := walkOutboundInto(item, blobs)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return v, nil
	}
}

// ParseBinaryFrame splits a binary frame into its URI prefix and payload
// per the canonical `uri || payload` convention (§9: no separator byte,
// adopted for both directions).
func ParseBinaryFrame(frame []byte) (uri string, payload []byte, err error) {
	if len(frame) < uriLength {
		return "", nil, fmt.Errorf("binary frame shorter than a URI (%d bytes)", len(frame))
	}
	uri = string(frame[:uriLength])
	if !isHexURI(uri) {
		return "", nil, fmt.Errorf("binary frame prefix is not a valid hex URI")
	}
	return uri, frame[uriLength:], nil
}

package circuits

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var errUnsupportedEncoding = errors.New("unsupported proof encoding")

// ProofBytes is a proof payload that tolerates the encodings provers emit.
//
// Accepts 0x-prefixed hex strings, base64 strings, or arrays of byte values.
// MarshalJSON always emits a 0x-prefixed hex string.
type ProofBytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (p *ProofBytes) UnmarshalJSON(data []byte) error {
	decoded, err := decodeFlexibleBytes(data)
	if err != nil {
		return fmt.Errorf("proof: %w", err)
	}
	*p = decoded
	return nil
}

// MarshalJSON emits a 0x-prefixed hex string representation.
func (p ProofBytes) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(hexutil.Encode(p))
}

// Clone returns a copy of the underlying slice.
func (p ProofBytes) Clone() ProofBytes {
	if len(p) == 0 {
		return nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	return buf
}

func decodeFlexibleBytes(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return nil, fmt.Errorf("array must contain integers: %w", err)
		}
		buf := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("byte out of range: %d", v)
			}
			buf[i] = byte(v)
		}
		return buf, nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("string invalid: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			decoded, err := hexutil.Decode("0x" + s[2:])
			if err != nil {
				return nil, fmt.Errorf("hex decode failed: %w", err)
			}
			return decoded, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decoded, nil
	default:
		return nil, errUnsupportedEncoding
	}
}

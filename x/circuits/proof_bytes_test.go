package circuits

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

const sampleHexProof = "0xa4594c5929c1336033c0f5825389dd9e6ce40adcb9d4901246a906a56e06400c765debf72b9df5dd419de268d3e" +
	"2da1e70a46195d7aa4215b3bc39b8c0de462cc02137201d3eee90c560088ef6436c6e4394fb23d27907421b7038d37dabf505af878f"

func TestProofBytes_UnmarshalHex(t *testing.T) {
	var p ProofBytes
	require.NoError(t, json.Unmarshal([]byte(`"`+sampleHexProof+`"`), &p))
	require.Len(t, p, 99)
	encoded, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `"`+sampleHexProof+`"`, string(encoded))
}

func TestProofBytes_UnmarshalBase64(t *testing.T) {
	raw, err := hexutil.Decode(sampleHexProof)
	require.NoError(t, err)
	b64 := base64.StdEncoding.EncodeToString(raw)
	var p ProofBytes
	require.NoError(t, json.Unmarshal([]byte(`"`+b64+`"`), &p))
	require.Equal(t, raw, []byte(p))
}

func TestProofBytes_UnmarshalArray(t *testing.T) {
	var p ProofBytes
	require.NoError(t, json.Unmarshal([]byte(`[1, 2, 3]`), &p))
	require.Equal(t, []byte{1, 2, 3}, []byte(p))

	require.Error(t, json.Unmarshal([]byte(`[1, 256]`), &p))
}

func TestProofBytes_UnmarshalInvalid(t *testing.T) {
	var p ProofBytes
	require.Error(t, json.Unmarshal([]byte(`true`), &p))
}

func TestProofBytes_Clone(t *testing.T) {
	p := ProofBytes{9, 8, 7}
	clone := p.Clone()
	require.Equal(t, p, clone)
	clone[0] ^= 0xff
	require.NotEqual(t, clone[0], p[0])

	require.Nil(t, ProofBytes(nil).Clone())
}

func TestProof_JSONRoundTrip(t *testing.T) {
	in := Proof{
		Kind:       KindMergeRollup,
		Commitment: common.HexToHash("0x01"),
		Data:       ProofBytes{0xde, 0xad},
	}
	encoded, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"proof":"0xdead"`)

	var out Proof
	require.NoError(t, json.Unmarshal(encoded, &out))
	require.Equal(t, in, out)
	require.False(t, out.IsZero())
	require.True(t, Proof{}.IsZero())
}

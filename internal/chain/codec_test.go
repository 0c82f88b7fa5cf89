package chain

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentHex = "0x00000000000000000000000000000000000000aa"

func TestDecodeJSONBareAgentAddress(t *testing.T) {
	snap, err := DecodeJSON([]byte(`{
		"messages": [{"sender": "` + agentHex + `", "content": "hi", "timestamp": 100}],
		"prizePool": "2000000000000000000",
		"messagePrice": {"type": "BigNumber", "hex": "0x2386f26fc10000"},
		"gameState": 0,
		"agentAddress": "` + agentHex + `",
		"isLoading": false,
		"blockNumber": "0x10"
	}`))
	require.NoError(t, err)

	require.Len(t, snap.Messages, 1)
	assert.Equal(t, uint64(100), snap.Messages[0].Timestamp)
	require.NotNil(t, snap.AgentAddress)
	assert.Equal(t, common.HexToAddress(agentHex), *snap.AgentAddress)
	require.NotNil(t, snap.Phase)
	assert.Equal(t, domain.PhaseUserAction, *snap.Phase)
	assert.Equal(t, "2000000000000000000", snap.PrizePool.String())
	assert.Equal(t, "10000000000000000", snap.MessagePrice.String())
	assert.Equal(t, uint64(16), snap.BlockNumber)
}

func TestDecodeJSONEnvelopeAgentAddress(t *testing.T) {
	snap, err := DecodeJSON([]byte(`{"agentAddress": {"data": "` + agentHex + `", "isLoading": false}}`))
	require.NoError(t, err)
	require.NotNil(t, snap.AgentAddress)
	assert.Equal(t, common.HexToAddress(agentHex), *snap.AgentAddress)

	snap, err = DecodeJSON([]byte(`{"agentAddress": {"data": null, "isLoading": true}}`))
	require.NoError(t, err)
	assert.Nil(t, snap.AgentAddress)
	assert.Empty(t, snap.ReadError)

	snap, err = DecodeJSON([]byte(`{"agentAddress": {"isError": true, "error": "rpc timeout"}}`))
	require.NoError(t, err)
	assert.Nil(t, snap.AgentAddress)
	assert.Contains(t, snap.ReadError, "rpc timeout")
}

func TestDecodeJSONUnresolvedFieldsStayNil(t *testing.T) {
	snap, err := DecodeJSON([]byte(`{"isLoading": true}`))
	require.NoError(t, err)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.Messages)
	assert.Nil(t, snap.PrizePool)
	assert.Nil(t, snap.MessagePrice)
	assert.Nil(t, snap.Phase)
	assert.Nil(t, snap.AgentAddress)
}

func TestDecodeJSONRejectsBadInput(t *testing.T) {
	for name, body := range map[string]string{
		"bad address": `{"agentAddress": "0x123"}`,
		"neg amount":  `{"messagePrice": "-5"}`,
		"bad amount":  `{"prizePool": "lots"}`,
		"not json":    `{`,
		"ts overflow": `{"messages": [{"sender": "x", "content": "", "timestamp": "1000000000000000000000"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeYAML(t *testing.T) {
	snap, err := Decode(strings.NewReader(`
messages:
  - sender: "`+agentHex+`"
    content: gm
    timestamp: 42
messagePrice: "1000"
gameState: AgentAction
agentAddress:
  data: "`+agentHex+`"
  isLoading: false
`), FormatYAML)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "gm", snap.Messages[0].Content)
	assert.Equal(t, "1000", snap.MessagePrice.String())
	require.NotNil(t, snap.Phase)
	assert.Equal(t, domain.PhaseAgentAction, *snap.Phase)
	require.NotNil(t, snap.AgentAddress)
}

func TestEncodeJSONRoundTrip(t *testing.T) {
	in, err := DecodeJSON([]byte(`{
		"messages": [{"sender": "0xabc", "content": "malformed sender kept", "timestamp": 7}],
		"messagePrice": "5",
		"gameState": "Ended",
		"agentAddress": "` + agentHex + `",
		"blockNumber": 9
	}`))
	require.NoError(t, err)

	data, err := EncodeJSON(in)
	require.NoError(t, err)
	out, err := DecodeJSON(data)
	require.NoError(t, err)

	assert.Equal(t, in.Messages, out.Messages)
	assert.Equal(t, in.MessagePrice.String(), out.MessagePrice.String())
	assert.Nil(t, out.PrizePool)
	assert.Equal(t, *in.Phase, *out.Phase)
	assert.Equal(t, *in.AgentAddress, *out.AgentAddress)
	assert.Equal(t, in.BlockNumber, out.BlockNumber)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("snap.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("dir/snap.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("snap.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("snap"))
}

func TestReadUnwrap(t *testing.T) {
	v := 3
	_, ok := Read[int]{Data: &v, Loading: true}.Unwrap()
	assert.False(t, ok)

	got, ok := Read[int]{Data: &v}.Unwrap()
	assert.True(t, ok)
	assert.Equal(t, 3, got)

	assert.Nil(t, Read[int]{}.Ptr())
}

package mpesa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, raw string) *CallbackEnvelope {
	t.Helper()
	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return &env
}

func TestNotificationFromStkSuccess(t *testing.T) {
	// Daraja 沙箱真实报文形态：手机号以数字下发
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1000.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`

	n, err := decodeEnvelope(t, raw).Notification()
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", n.CheckoutRequestID)
	assert.True(t, n.Success)
	assert.Equal(t, "254708374149", n.PayerPhone)
	assert.Equal(t, "NLJ7RT61SV", n.Receipt)
}

func TestNotificationFromStkFailure(t *testing.T) {
	// 用户取消输入 PIN：没有 CallbackMetadata
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user."
			}
		}
	}`

	n, err := decodeEnvelope(t, raw).Notification()
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", n.CheckoutRequestID)
	assert.False(t, n.Success)
	assert.Equal(t, "Request cancelled by user.", n.ResultDesc)
	assert.Empty(t, n.PayerPhone)
	assert.Empty(t, n.Receipt)
}

func TestNotificationFromB2CResult(t *testing.T) {
	raw := `{
		"Result": {
			"ResultType": 0,
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"OriginatorConversationID": "10571-7910404-1",
			"ConversationID": "AG_20191219_00004e48cf7e3533f581",
			"TransactionID": "NLJ41HAY6Q"
		}
	}`

	n, err := decodeEnvelope(t, raw).Notification()
	require.NoError(t, err)
	// B2C 的关联ID是 ConversationID
	assert.Equal(t, "AG_20191219_00004e48cf7e3533f581", n.CheckoutRequestID)
	assert.True(t, n.Success)
	assert.Equal(t, "NLJ41HAY6Q", n.Receipt)
}

func TestNotificationFromB2CFailure(t *testing.T) {
	raw := `{
		"Result": {
			"ResultType": 0,
			"ResultCode": 2001,
			"ResultDesc": "The initiator information is invalid.",
			"ConversationID": "AG_20191219_00004e48cf7e3533f581"
		}
	}`

	n, err := decodeEnvelope(t, raw).Notification()
	require.NoError(t, err)
	assert.False(t, n.Success)
}

func TestNotificationUnknownEnvelope(t *testing.T) {
	_, err := decodeEnvelope(t, `{"foo": "bar"}`).Notification()
	assert.ErrorIs(t, err, ErrUnknownEnvelope)
}

func TestCallbackMetadataAccessors(t *testing.T) {
	m := &CallbackMetadata{Item: []MetadataItem{
		{Name: "PhoneNumber", Value: "254708374149"},
		{Name: "MpesaReceiptNumber", Value: "NLJ7RT61SV"},
	}}
	assert.Equal(t, "254708374149", m.PhoneNumber())
	assert.Equal(t, "NLJ7RT61SV", m.ReceiptNumber())

	var nilMeta *CallbackMetadata
	assert.Empty(t, nilMeta.PhoneNumber())
	assert.Empty(t, nilMeta.ReceiptNumber())
}

package mpesa

import (
	"errors"
	"fmt"
)

// ============================================================================
// 回调报文
// ============================================================================
//
// Daraja 的两种异步结果走同一个回调地址：
//   - STK Push 结果：包在 Body.stkCallback 里，关联ID是 CheckoutRequestID
//   - B2C 结果：包在 Result 里，关联ID是 ConversationID
// CallbackEnvelope 两个分支都声明为指针，哪个非空就是哪种报文。
//
// ============================================================================

// ErrUnknownEnvelope 报文两种形态都不匹配
var ErrUnknownEnvelope = errors.New("无法识别的回调报文")

// CallbackEnvelope 统一回调信封
type CallbackEnvelope struct {
	Body *struct {
		StkCallback *StkCallback `json:"stkCallback"`
	} `json:"Body,omitempty"`
	Result *B2CResult `json:"Result,omitempty"`
}

// StkCallback STK Push 结果（collection）
// ResultCode 0 表示付款方已输入 PIN 且扣款成功
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata 成功时附带的明细项（金额、回执号、付款方手机号）
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Get 按名称取明细项的值
func (m *CallbackMetadata) Get(name string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// PhoneNumber 付款方手机号（Daraja 以数字形式下发）
func (m *CallbackMetadata) PhoneNumber() string {
	v, ok := m.Get("PhoneNumber")
	if !ok {
		return ""
	}
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return fmt.Sprintf("%.0f", n)
	}
	return ""
}

// ReceiptNumber M-Pesa 回执号
func (m *CallbackMetadata) ReceiptNumber() string {
	if v, ok := m.Get("MpesaReceiptNumber"); ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}

// B2CResult B2C 打款结果（disbursement）
type B2CResult struct {
	ResultType               int    `json:"ResultType"`
	ResultCode               int    `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ConversationID           string `json:"ConversationID"`
	TransactionID            string `json:"TransactionID"`
}

// Notification 两种报文归一后的结算输入
type Notification struct {
	CheckoutRequestID string // 关联ID（STK: CheckoutRequestID / B2C: ConversationID）
	Success           bool
	ResultDesc        string
	PayerPhone        string // 付款方手机号，仅 collection 成功时有
	Receipt           string // M-Pesa 回执号
}

// Notification 从信封中提取结算输入
func (e *CallbackEnvelope) Notification() (*Notification, error) {
	if e.Body != nil && e.Body.StkCallback != nil {
		cb := e.Body.StkCallback
		n := &Notification{
			CheckoutRequestID: cb.CheckoutRequestID,
			Success:           cb.ResultCode == 0,
			ResultDesc:        cb.ResultDesc,
		}
		if cb.CallbackMetadata != nil {
			n.PayerPhone = cb.CallbackMetadata.PhoneNumber()
			n.Receipt = cb.CallbackMetadata.ReceiptNumber()
		}
		return n, nil
	}

	if e.Result != nil {
		return &Notification{
			CheckoutRequestID: e.Result.ConversationID,
			Success:           e.Result.ResultCode == 0,
			ResultDesc:        e.Result.ResultDesc,
			Receipt:           e.Result.TransactionID,
		}, nil
	}

	return nil, ErrUnknownEnvelope
}

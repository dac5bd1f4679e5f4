package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"sokobot/internal/config"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Daraja 网关客户端
// ============================================================================
//
// 封装 Safaricom Daraja 的三个接口：
//   1. OAuth 取 token（结果缓存在 Redis，有效期内复用）
//   2. STK Push —— collection，向付款方手机弹出输入 PIN 的支付框
//   3. B2C —— disbursement，向店主手机号打款（提现）
//
// 【关键点】发起成功只代表"请求已受理、在途"，绝不代表已结算；
// 真正的结果由 Daraja 异步回调送达，由 SettlementService 消化。
//
// ============================================================================

var (
	// ErrGatewayRejected 网关受理失败（ResponseCode 非 0），未产生任何在途交易
	ErrGatewayRejected = errors.New("支付网关拒绝请求")
	// ErrGatewayUnavailable 网关不可达（网络/超时），可安全重试
	ErrGatewayUnavailable = errors.New("支付网关暂时不可用")
)

const tokenCacheKey = "mpesa:access_token"

// Gateway 网关抽象，IntentService 依赖它而不是具体 Client，便于测试替换
type Gateway interface {
	// InitiateCollection 发起收款（STK Push），返回 CheckoutRequestID
	InitiateCollection(ctx context.Context, payerPhone string, amount int64, description string) (string, error)
	// InitiateDisbursement 发起打款（B2C），返回 ConversationID
	InitiateDisbursement(ctx context.Context, payeePhone string, amount int64, description string) (string, error)
}

type Client struct {
	cfg        *config.MpesaConfig
	httpClient *http.Client
	rdb        *redis.Client
}

func NewClient(cfg *config.MpesaConfig, rdb *redis.Client) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		rdb:        rdb,
	}
}

// ============================================================
// OAuth
// ============================================================

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken 获取访问令牌，优先读 Redis 缓存
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, err := c.rdb.Get(ctx, tokenCacheKey).Result(); err == nil && token != "" {
		return token, nil
	}

	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: 认证接口返回 %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("解析 token 响应失败: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: 未返回 access_token", ErrGatewayRejected)
	}

	// Daraja token 标称 3599 秒，提前 60 秒过期避免边界失效
	ttl := 3599 * time.Second
	if d, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil && d > 0 {
		ttl = d
	}
	if ttl > time.Minute {
		ttl -= time.Minute
	}
	if err := c.rdb.Set(ctx, tokenCacheKey, tr.AccessToken, ttl).Err(); err != nil {
		log.Printf("[Mpesa] 缓存 token 失败: %v", err)
	}

	return tr.AccessToken, nil
}

// ============================================================
// STK Push（collection）
// ============================================================

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (c *Client) InitiateCollection(ctx context.Context, payerPhone string, amount int64, description string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	// Daraja 要求 Password = base64(Shortcode + Passkey + Timestamp)
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.BusinessShortCode + c.cfg.Passkey + timestamp))

	payload := stkPushRequest{
		BusinessShortCode: c.cfg.BusinessShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            payerPhone,
		PartyB:            c.cfg.BusinessShortCode,
		PhoneNumber:       payerPhone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  "SokoBot",
		TransactionDesc:   description,
	}

	var result stkPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &result); err != nil {
		return "", err
	}

	if result.ResponseCode != "0" {
		return "", fmt.Errorf("%w: code=%s desc=%s",
			ErrGatewayRejected, result.ResponseCode, result.ResponseDescription)
	}

	log.Printf("[Mpesa] STK Push 已受理: checkoutRequestID=%s, phone=%s, amount=%d",
		result.CheckoutRequestID, payerPhone, amount)
	return result.CheckoutRequestID, nil
}

// ============================================================
// B2C（disbursement）
// ============================================================

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

func (c *Client) InitiateDisbursement(ctx context.Context, payeePhone string, amount int64, description string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	payload := b2cRequest{
		InitiatorName:      c.cfg.InitiatorName,
		SecurityCredential: c.cfg.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             amount,
		PartyA:             c.cfg.BusinessShortCode,
		PartyB:             payeePhone,
		Remarks:            description,
		QueueTimeOutURL:    c.cfg.CallbackURL,
		ResultURL:          c.cfg.CallbackURL,
	}

	var result b2cResponse
	if err := c.postJSON(ctx, "/mpesa/b2c/v1/paymentrequest", token, payload, &result); err != nil {
		return "", err
	}

	if result.ResponseCode != "0" {
		return "", fmt.Errorf("%w: code=%s desc=%s",
			ErrGatewayRejected, result.ResponseCode, result.ResponseDescription)
	}

	log.Printf("[Mpesa] B2C 已受理: conversationID=%s, phone=%s, amount=%d",
		result.ConversationID, payeePhone, amount)
	return result.ConversationID, nil
}

// postJSON 带 Bearer token 的 JSON POST
func (c *Client) postJSON(ctx context.Context, path, token string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: 网关返回 %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: 网关返回 %d", ErrGatewayRejected, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

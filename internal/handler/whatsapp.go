package handler

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sokobot/internal/mpesa"
	"sokobot/internal/repository"
	"sokobot/internal/service"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// WhatsApp 指令入口（Command Router）
// ============================================================================
//
// Twilio 把用户消息以表单 POST 过来（Body=文本，From=whatsapp:+2547...），
// 应答是 TwiML XML。这一层只做文本到服务调用的映射和回复拼装，
// 所有业务规则都在 service 层。
//
// 店主指令：REGISTER / UPDATE / SUBSCRIBE / WITHDRAW / STATUS
// 买家指令：FIND / BUY
//
// ============================================================================

const helpText = "Karibu SokoBot! 👋\n\n" +
	"Shop owners:\n" +
	"• REGISTER <name>; <catalog>; <location>; <pay>; <hours>\n" +
	"• UPDATE <NAME|CATALOG|LOCATION|PAY|HOURS> <value>\n" +
	"• SUBSCRIBE — renew listing\n" +
	"• WITHDRAW — cash out wallet\n" +
	"• STATUS — balance & expiry\n\n" +
	"Buyers:\n" +
	"• FIND <shop name>\n" +
	"• BUY <shop name> <amount>"

// twimlResponse Twilio 要求的应答格式
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// WhatsAppWebhook 消息入口
// POST /whatsapp （Content-Type: application/x-www-form-urlencoded）
func (h *Handler) WhatsAppWebhook(c *gin.Context) {
	body := strings.TrimSpace(c.PostForm("Body"))
	phone := normalizePhone(c.PostForm("From"))

	if phone == "" {
		c.XML(http.StatusOK, twimlResponse{Message: "Sorry, we could not identify your number."})
		return
	}

	reply := h.dispatch(c, phone, body)
	c.XML(http.StatusOK, twimlResponse{Message: reply})
}

// dispatch 指令分派
func (h *Handler) dispatch(c *gin.Context, phone, body string) string {
	keyword, rest := splitCommand(body)

	switch keyword {
	case "hi", "hello", "hey", "help", "":
		return helpText

	case "register":
		return h.cmdRegister(c, phone, rest)

	case "update":
		return h.cmdUpdate(c, phone, rest)

	case "find":
		return h.cmdFind(c, rest)

	case "buy":
		return h.cmdBuy(c, phone, rest)

	case "subscribe":
		return h.cmdSubscribe(c, phone)

	case "withdraw":
		return h.cmdWithdraw(c, phone)

	case "status":
		return h.cmdStatus(c, phone)

	default:
		return "❓ Sorry, I didn't understand.\n\n" + helpText
	}
}

func (h *Handler) cmdRegister(c *gin.Context, phone, rest string) string {
	req, err := parseRegisterCommand(phone, rest)
	if err != nil {
		return "Usage: REGISTER <name>; <catalog link>; <location>; <pay info>; <hours>"
	}

	shop, err := h.shopService.Register(c.Request.Context(), req)
	if err != nil {
		return "Registration failed, please try again later."
	}
	return fmt.Sprintf("✅ %s is registered!\nListing active until %s.",
		shop.ShopName, shop.ExpiryDate.Format("2006-01-02"))
}

func (h *Handler) cmdUpdate(c *gin.Context, phone, rest string) string {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) < 2 {
		return "Usage: UPDATE <NAME|CATALOG|LOCATION|PAY|HOURS> <new value>"
	}
	field := strings.ToUpper(strings.TrimSpace(parts[0]))
	value := strings.TrimSpace(parts[1])

	err := h.shopService.UpdateField(c.Request.Context(), phone, field, value)
	switch {
	case errors.Is(err, service.ErrInvalidField):
		return "Unknown field. Use NAME, CATALOG, LOCATION, PAY or HOURS."
	case errors.Is(err, repository.ErrShopNotFound):
		return "You are not registered yet. Send REGISTER first."
	case err != nil:
		return "Update failed, please try again later."
	}
	return fmt.Sprintf("✅ %s updated.", field)
}

func (h *Handler) cmdFind(c *gin.Context, rest string) string {
	if rest == "" {
		return "Usage: FIND <shop name>"
	}
	shop, err := h.shopService.FindListedShop(c.Request.Context(), rest)
	if err != nil {
		return "No shop found with that name."
	}
	return fmt.Sprintf("🏪 *%s*\n📋 Catalog: %s\n📍 Location: %s\n🕐 Hours: %s\n\nTo order: BUY %s <amount>",
		shop.ShopName, shop.CatalogLink, shop.LocationMap, shop.OperatingHours, shop.ShopName)
}

func (h *Handler) cmdBuy(c *gin.Context, phone, rest string) string {
	query, amount, err := parseBuyCommand(rest)
	if err != nil {
		return "Usage: BUY <shop name> <amount>"
	}

	intent, err := h.intentService.StartPurchase(c.Request.Context(), phone, query, amount)
	switch {
	case errors.Is(err, repository.ErrShopNotFound):
		return "No shop found with that name."
	case errors.Is(err, service.ErrInvalidAmount):
		return "Amount must be a positive number."
	case errors.Is(err, mpesa.ErrGatewayRejected), errors.Is(err, mpesa.ErrGatewayUnavailable):
		return "Payment could not be started, please try again in a moment."
	case err != nil:
		return "Something went wrong, please try again later."
	}
	return fmt.Sprintf("📲 Check your phone and enter your M-Pesa PIN to pay KES %d.\nRef: %s",
		intent.Amount, intent.CheckoutRequestID)
}

func (h *Handler) cmdSubscribe(c *gin.Context, phone string) string {
	intent, err := h.intentService.StartSubscription(c.Request.Context(), phone)
	switch {
	case errors.Is(err, service.ErrNotRegistered):
		return "You are not registered yet. Send REGISTER first."
	case errors.Is(err, mpesa.ErrGatewayRejected), errors.Is(err, mpesa.ErrGatewayUnavailable):
		return "Payment could not be started, please try again in a moment."
	case err != nil:
		return "Something went wrong, please try again later."
	}
	return fmt.Sprintf("📲 Check your phone and enter your M-Pesa PIN to renew (KES %d).", intent.Amount)
}

func (h *Handler) cmdWithdraw(c *gin.Context, phone string) string {
	intent, err := h.intentService.StartWithdrawal(c.Request.Context(), phone)
	switch {
	case errors.Is(err, service.ErrNotRegistered):
		return "You are not registered yet. Send REGISTER first."
	case errors.Is(err, service.ErrInsufficientBalance):
		return "Your balance is below the minimum withdrawal amount."
	case errors.Is(err, repository.ErrWithdrawalInProgress):
		return "You already have a withdrawal in progress. Please wait for it to complete."
	case errors.Is(err, mpesa.ErrGatewayRejected), errors.Is(err, mpesa.ErrGatewayUnavailable):
		return "Withdrawal could not be started, please try again in a moment."
	case err != nil:
		return "Something went wrong, please try again later."
	}
	return fmt.Sprintf("💸 Withdrawal of KES %d started. You will receive the money shortly.", intent.Amount)
}

func (h *Handler) cmdStatus(c *gin.Context, phone string) string {
	status, err := h.shopService.Status(c.Request.Context(), phone)
	if err != nil {
		return "You are not registered yet. Send REGISTER first."
	}
	return fmt.Sprintf("🏪 *%s*\n💰 Wallet: KES %d\n📅 Listed until: %s\n⏳ Pending payments: %d",
		status.Shop.ShopName, status.Shop.Balance,
		status.Shop.ExpiryDate.Format("2006-01-02"), status.PendingIntents)
}

// ============================================================
// 解析辅助
// ============================================================

// splitCommand 取首个词作为指令关键字（小写），其余原样返回
func splitCommand(body string) (keyword, rest string) {
	parts := strings.SplitN(strings.TrimSpace(body), " ", 2)
	keyword = strings.ToLower(parts[0])
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}
	return keyword, rest
}

// normalizePhone 把 "whatsapp:+254712345678" 归一成 "254712345678"
func normalizePhone(from string) string {
	from = strings.TrimPrefix(from, "whatsapp:")
	from = strings.TrimPrefix(from, "+")
	return strings.TrimSpace(from)
}

// parseRegisterCommand 解析分号分隔的注册参数，店铺名必填，其余可空
func parseRegisterCommand(phone, rest string) (*service.RegisterRequest, error) {
	if strings.TrimSpace(rest) == "" {
		return nil, errors.New("缺少店铺名")
	}
	fields := strings.Split(rest, ";")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	req := &service.RegisterRequest{Phone: phone, ShopName: fields[0]}
	if req.ShopName == "" {
		return nil, errors.New("缺少店铺名")
	}
	if len(fields) > 1 {
		req.CatalogLink = fields[1]
	}
	if len(fields) > 2 {
		req.LocationMap = fields[2]
	}
	if len(fields) > 3 {
		req.PaymentInfo = fields[3]
	}
	if len(fields) > 4 {
		req.OperatingHours = fields[4]
	}
	return req, nil
}

// parseBuyCommand 解析 "BUY <shop name> <amount>"，最后一个词是金额
func parseBuyCommand(rest string) (query string, amount int64, err error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return "", 0, errors.New("参数不足")
	}
	amount, err = strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("金额非法: %w", err)
	}
	query = strings.Join(fields[:len(fields)-1], " ")
	return query, amount, nil
}

package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		body    string
		keyword string
		rest    string
	}{
		{"FIND mama mboga", "find", "mama mboga"},
		{"  STATUS  ", "status", ""},
		{"buy Kibanda Chips 500", "buy", "Kibanda Chips 500"},
		{"", "", ""},
		{"HELP", "help", ""},
	}
	for _, tt := range tests {
		keyword, rest := splitCommand(tt.body)
		assert.Equal(t, tt.keyword, keyword, "body=%q", tt.body)
		assert.Equal(t, tt.rest, rest, "body=%q", tt.body)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"whatsapp:+254712345678", "254712345678"},
		{"+254712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePhone(tt.in), "in=%q", tt.in)
	}
}

func TestParseRegisterCommand(t *testing.T) {
	req, err := parseRegisterCommand("254700000001",
		"Kibanda Chips; https://wa.me/c/123; https://maps.app/abc; Till 832100; Mon-Sat 8am-8pm")
	require.NoError(t, err)
	assert.Equal(t, "254700000001", req.Phone)
	assert.Equal(t, "Kibanda Chips", req.ShopName)
	assert.Equal(t, "https://wa.me/c/123", req.CatalogLink)
	assert.Equal(t, "https://maps.app/abc", req.LocationMap)
	assert.Equal(t, "Till 832100", req.PaymentInfo)
	assert.Equal(t, "Mon-Sat 8am-8pm", req.OperatingHours)
}

func TestParseRegisterCommandNameOnly(t *testing.T) {
	// 只给店铺名也算合法注册
	req, err := parseRegisterCommand("254700000001", "Kibanda Chips")
	require.NoError(t, err)
	assert.Equal(t, "Kibanda Chips", req.ShopName)
	assert.Empty(t, req.CatalogLink)
}

func TestParseRegisterCommandMissingName(t *testing.T) {
	_, err := parseRegisterCommand("254700000001", "")
	assert.Error(t, err)

	_, err = parseRegisterCommand("254700000001", " ; catalog")
	assert.Error(t, err)
}

func TestParseBuyCommand(t *testing.T) {
	// 金额永远是最后一个词，店铺名可以带空格
	query, amount, err := parseBuyCommand("Kibanda Chips 500")
	require.NoError(t, err)
	assert.Equal(t, "Kibanda Chips", query)
	assert.Equal(t, int64(500), amount)

	query, amount, err = parseBuyCommand("mamamboga 50")
	require.NoError(t, err)
	assert.Equal(t, "mamamboga", query)
	assert.Equal(t, int64(50), amount)
}

func TestParseBuyCommandRejectsBadInput(t *testing.T) {
	_, _, err := parseBuyCommand("Kibanda Chips")
	assert.Error(t, err) // 金额不是数字

	_, _, err = parseBuyCommand("500")
	assert.Error(t, err) // 缺店铺名

	_, _, err = parseBuyCommand("")
	assert.Error(t, err)
}

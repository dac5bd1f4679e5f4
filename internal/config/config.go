package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Mpesa    MpesaConfig    `mapstructure:"mpesa"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentSettled string `mapstructure:"payment_settled"`
}

// MpesaConfig Daraja 网关配置
// 沙箱环境参数见 developer.safaricom.co.ke
type MpesaConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	ConsumerKey        string `mapstructure:"consumer_key"`
	ConsumerSecret     string `mapstructure:"consumer_secret"`
	BusinessShortCode  string `mapstructure:"business_short_code"`
	Passkey            string `mapstructure:"passkey"`
	InitiatorName      string `mapstructure:"initiator_name"`
	SecurityCredential string `mapstructure:"security_credential"`
	CallbackURL        string `mapstructure:"callback_url"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

// BusinessConfig 业务规则配置
//
// 【关键点】佣金率、最低提现额、回调地址这类参数不允许写成包级常量，
// 必须通过 Config 注入到 IntentService / SettlementService，
// 否则沙箱/生产多环境部署时无法区分。
type BusinessConfig struct {
	DefaultCommissionRate string `mapstructure:"default_commission_rate"` // 小数字符串，如 "0.05"
	MinWithdrawal         int64  `mapstructure:"min_withdrawal"`          // 最低提现额（先令）
	SubscriptionFee       int64  `mapstructure:"subscription_fee"`        // 订阅续费金额（先令）
	SubscriptionDays      int    `mapstructure:"subscription_days"`       // 每次续费延长天数
	IntentTTLHours        int    `mapstructure:"intent_ttl_hours"`        // 对账清扫：未决 intent 保留时长
	MaxRetryCount         int    `mapstructure:"max_retry_count"`         // outbox 消息最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

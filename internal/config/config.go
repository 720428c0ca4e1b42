package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Economy   EconomyConfig   `mapstructure:"economy"`
	Wheel     WheelConfig     `mapstructure:"wheel"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Media     MediaConfig     `mapstructure:"media"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
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

// KafkaTopicConfig notify 面向用户的通知，operator 面向运营/管理员频道
type KafkaTopicConfig struct {
	Notify   string `mapstructure:"notify"`
	Operator string `mapstructure:"operator"`
}

// EconomyConfig 积分经济参数
//
// 金额类字段以字符串配置，避免 YAML 浮点解析带来的精度问题
type EconomyConfig struct {
	UnlockCost          string        `mapstructure:"unlock_cost"`
	PremiumDailyPrice   string        `mapstructure:"premium_daily_price"`
	InvitePrice         string        `mapstructure:"invite_price"`
	DonationRatio       string        `mapstructure:"donation_ratio"`
	TrafficAllowanceGB  int64         `mapstructure:"traffic_allowance_gb"`
	PremiumAllowanceGB  int64         `mapstructure:"premium_allowance_gb"`
	TrafficRatePer10GB  string        `mapstructure:"traffic_rate_per_10gb"`
	StoreTimeout        time.Duration `mapstructure:"store_timeout"`
	MaxConflictRetries  int           `mapstructure:"max_conflict_retries"`
	NameCacheTTL        time.Duration `mapstructure:"name_cache_ttl"`
	TrafficBillingHour  int           `mapstructure:"traffic_billing_hour"`
	OutboxMaxRetryCount int           `mapstructure:"outbox_max_retry_count"`
}

type WheelConfig struct {
	ProtectionEnabled   bool    `mapstructure:"protection_enabled"`
	ProtectionThreshold float64 `mapstructure:"protection_threshold"`
	ProtectionFactor    float64 `mapstructure:"protection_factor"`
	SpinRatePerMinute   int     `mapstructure:"spin_rate_per_minute"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type MediaConfig struct {
	Plex MediaServerConfig `mapstructure:"plex"`
	Emby MediaServerConfig `mapstructure:"emby"`
}

type MediaServerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	LibraryID string        `mapstructure:"library_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")
	v.SetDefault("kafka.topic.notify", "credits.notify")
	v.SetDefault("kafka.topic.operator", "credits.operator")

	v.SetDefault("economy.unlock_cost", "100")
	v.SetDefault("economy.premium_daily_price", "10")
	v.SetDefault("economy.invite_price", "500")
	v.SetDefault("economy.donation_ratio", "10")
	v.SetDefault("economy.traffic_allowance_gb", 30)
	v.SetDefault("economy.premium_allowance_gb", 100)
	v.SetDefault("economy.traffic_rate_per_10gb", "5")
	v.SetDefault("economy.store_timeout", 3*time.Second)
	v.SetDefault("economy.max_conflict_retries", 3)
	v.SetDefault("economy.name_cache_ttl", 10*time.Minute)
	v.SetDefault("economy.traffic_billing_hour", 2)
	v.SetDefault("economy.outbox_max_retry_count", 5)

	v.SetDefault("wheel.protection_enabled", false)
	v.SetDefault("wheel.protection_threshold", 5.0)
	v.SetDefault("wheel.protection_factor", 1.5)
	v.SetDefault("wheel.spin_rate_per_minute", 6)

	v.SetDefault("scheduler.sweep_interval", 30*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.lock_ttl", 25*time.Second)
}

// LoadConfig 加载配置文件
//
// 环境变量优先级高于配置文件，例如 CREDITS_MYSQL_PASSWORD 覆盖 mysql.password
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CREDITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Economy.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e EconomyConfig) validate() error {
	for name, raw := range map[string]string{
		"unlock_cost":           e.UnlockCost,
		"premium_daily_price":   e.PremiumDailyPrice,
		"invite_price":          e.InvitePrice,
		"donation_ratio":        e.DonationRatio,
		"traffic_rate_per_10gb": e.TrafficRatePer10GB,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("economy.%s 不是合法金额: %q", name, raw)
		}
		if d.IsNegative() {
			return fmt.Errorf("economy.%s 不能为负数", name)
		}
	}
	if e.MaxConflictRetries < 1 {
		return fmt.Errorf("economy.max_conflict_retries 至少为 1")
	}
	return nil
}

// Amount 解析已校验过的金额配置
func Amount(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw).Round(2)
}

// GB 字节换算，与流量统计口径保持一致（1GB = 1024^3）
const GB int64 = 1 << 30

func (e EconomyConfig) AllowanceBytes(premium bool) int64 {
	if premium {
		return e.PremiumAllowanceGB * GB
	}
	return e.TrafficAllowanceGB * GB
}

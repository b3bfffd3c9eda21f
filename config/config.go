package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Coupons  []CouponConfig `mapstructure:"coupons"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// GatewayConfig 支付网关（Razorpay）配置
type GatewayConfig struct {
	KeyID          string `mapstructure:"key_id"`
	KeySecret      string `mapstructure:"key_secret"`
	Currency       string `mapstructure:"currency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ReceiptPrefix  string `mapstructure:"receipt_prefix"`
}

// Timeout 网关调用超时，未配置时默认 10 秒
func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// 订阅叠加策略
const (
	PolicyMerge     = "merge"
	PolicySupersede = "supersede"
)

type BillingConfig struct {
	SubscriptionPolicy   string `mapstructure:"subscription_policy"` // merge, supersede
	ReconcileQueue       string `mapstructure:"reconcile_queue"`
	MaxReconcileAttempts int    `mapstructure:"max_reconcile_attempts"`
	ExpirySweepCron      string `mapstructure:"expiry_sweep_cron"`
	ReconcileRescanCron  string `mapstructure:"reconcile_rescan_cron"`
	ReconcileWorkers     int    `mapstructure:"reconcile_workers"`
	StalePendingCron     string `mapstructure:"stale_pending_cron"`
	StalePendingMinutes  int    `mapstructure:"stale_pending_minutes"`
	TrialPlanID          string `mapstructure:"trial_plan_id"`
}

// StalePendingAfter 未下单的 pending 支付超过该时长后关闭
func (b BillingConfig) StalePendingAfter() time.Duration {
	if b.StalePendingMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(b.StalePendingMinutes) * time.Minute
}

// Policy 返回生效的订阅叠加策略
func (b BillingConfig) Policy() string {
	if b.SubscriptionPolicy == PolicySupersede {
		return PolicySupersede
	}
	return PolicyMerge
}

type CatalogConfig struct {
	Currency string        `mapstructure:"currency"`
	Plans    []PlanConfig  `mapstructure:"plans"`
	AddOns   []AddOnConfig `mapstructure:"addons"`
}

type PlanConfig struct {
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	Price            int64  `mapstructure:"price"` // 最小货币单位
	DurationHours    int    `mapstructure:"duration_hours"`
	Optimizations    int    `mapstructure:"optimizations"`
	ScoreChecks      int    `mapstructure:"score_checks"`
	LinkedInMessages int    `mapstructure:"linkedin_messages"` // -1 表示不限
	GuidedBuilds     int    `mapstructure:"guided_builds"`
	Tag              string `mapstructure:"tag"`
	Popular          bool   `mapstructure:"popular"`
}

type AddOnConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Price    int64  `mapstructure:"price"`
	Kind     string `mapstructure:"kind"`
	Quantity int    `mapstructure:"quantity"`
}

type CouponConfig struct {
	Code     string   `mapstructure:"code"`
	PlanIDs  []string `mapstructure:"plan_ids"` // 包含 "*" 表示所有计划
	Percent  int      `mapstructure:"percent"`  // 100 表示全免
	MaxUses  int      `mapstructure:"max_uses"` // 0 表示不限
	Disabled bool     `mapstructure:"disabled"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	// .env 不存在时忽略
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("gateway.receipt_prefix", "txn_")
	v.SetDefault("billing.subscription_policy", PolicyMerge)
	v.SetDefault("billing.reconcile_queue", "billing:reconcile")
	v.SetDefault("billing.max_reconcile_attempts", 8)
	v.SetDefault("billing.expiry_sweep_cron", "*/10 * * * *")
	v.SetDefault("billing.reconcile_rescan_cron", "* * * * *")
	v.SetDefault("billing.reconcile_workers", 2)
	v.SetDefault("billing.stale_pending_cron", "*/15 * * * *")
	v.SetDefault("billing.stale_pending_minutes", 60)
	v.SetDefault("billing.trial_plan_id", "lite_check")
}

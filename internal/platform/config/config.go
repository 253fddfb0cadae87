package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	VK       VKConfig       `mapstructure:"vk"`
	Voting   VotingConfig   `mapstructure:"voting"`
	Event    EventConfig    `mapstructure:"event"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了数据库和缓存相关的配置
type DatabaseConfig struct {
	// Driver 取值 sqlite 或 postgres
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 定义了日志输出
type LogConfig struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	ErrorFile string `mapstructure:"error_file"`
	Console   bool   `mapstructure:"console"`
}

// VKConfig 定义了与VK平台交互所需的凭据
type VKConfig struct {
	APIURL           string `mapstructure:"api_url"`
	APIVersion       string `mapstructure:"api_version"`
	ServiceKey       string `mapstructure:"service_key"`
	BotToken         string `mapstructure:"bot_token"`
	AppSecret        string `mapstructure:"app_secret"`
	CallbackSecret   string `mapstructure:"callback_secret"`
	ConfirmationCode string `mapstructure:"confirmation_code"`
	AppURL           string `mapstructure:"app_url"`
}

// VotingConfig 定义了投票流程的并发与评论规则
type VotingConfig struct {
	LockHold                  time.Duration `mapstructure:"lock_hold"`
	LockWait                  time.Duration `mapstructure:"lock_wait"`
	MinCommunityCommentLength int           `mapstructure:"min_community_comment_length"`
	RequireEventComment       bool          `mapstructure:"require_event_comment"`
	IdempotencyTTL            time.Duration `mapstructure:"idempotency_ttl"`
}

// EventConfig 定义了活动排期相关的配置
type EventConfig struct {
	OverlapBuffer    time.Duration `mapstructure:"overlap_buffer"`
	ReminderLead     time.Duration `mapstructure:"reminder_lead"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
}

// CacheConfig 定义了各类缓存的过期时间
type CacheConfig struct {
	ProfileTTL       time.Duration `mapstructure:"profile_ttl"`
	IdentityTTL      time.Duration `mapstructure:"identity_ttl"`
	PaymentMarkerTTL time.Duration `mapstructure:"payment_marker_ttl"`
}

// AdminConfig 定义了管理员名单
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// IsAdmin 判断用户是否在管理员名单中
func (a AdminConfig) IsAdmin(userID int64) bool {
	for _, id := range a.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "expert_rating.db")
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.error_file", "")
	v.SetDefault("log.console", true)

	v.SetDefault("vk.api_url", "https://api.vk.com/method")
	v.SetDefault("vk.api_version", "5.199")
	v.SetDefault("vk.service_key", "")
	v.SetDefault("vk.bot_token", "")
	v.SetDefault("vk.app_secret", "")
	v.SetDefault("vk.callback_secret", "")
	v.SetDefault("vk.confirmation_code", "")
	v.SetDefault("vk.app_url", "")

	v.SetDefault("voting.lock_hold", 10*time.Second)
	v.SetDefault("voting.lock_wait", 3*time.Second)
	v.SetDefault("voting.min_community_comment_length", 10)
	v.SetDefault("voting.require_event_comment", false)
	v.SetDefault("voting.idempotency_ttl", 6*time.Hour)

	v.SetDefault("event.overlap_buffer", 30*time.Minute)
	v.SetDefault("event.reminder_lead", 15*time.Minute)
	v.SetDefault("event.reminder_interval", time.Minute)

	v.SetDefault("cache.profile_ttl", 10*time.Minute)
	v.SetDefault("cache.identity_ttl", 5*time.Minute)
	v.SetDefault("cache.payment_marker_ttl", 24*time.Hour)

	v.SetDefault("admin.ids", []int64{})
}

// LoadConfig 函数负责查找、加载和解析配置文件
// 它会在指定的路径中查找名为 config.yaml 的文件，找不到时只使用默认值和环境变量
func LoadConfig() (*Config, error) {
	// 1. 先加载 .env，密钥通常放在这里而不是yaml中
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("无法加载 .env 文件: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// 2. 设置配置文件名和搜索路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 3. 允许通过环境变量覆盖配置，例如 VK_SERVICE_KEY、DATABASE_DSN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	// 5. 将配置反序列化到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置: %w", err)
	}

	return &cfg, nil
}

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// ErrConfigMissing 表示缺少必需的密钥。服务仍会启动，但只报告问题而不提供对话。
var ErrConfigMissing = errors.New("required configuration missing")

const (
	SummaryProviderOpenAI = "openai"
	SummaryProviderArk    = "ark"

	defaultUserAvatar = "https://media.licdn.com/dms/image/C4D03AQFcYp5D50_vhw/profile-displayphoto-shrink_800_800/0/1535476223216?e=1724889600&v=beta&t=w7RaYLBtq2kAmsJ_mjhqlsh6aFzmV8whchry291dH2o"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Assistants AssistantsConfig
	Summary    SummaryConfig
	Auth       AuthConfig
	Session    SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	assistants, err := loadAssistantsConfig()
	if err != nil {
		return nil, err
	}

	summary, err := loadSummaryConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Assistants: assistants, Summary: summary, Auth: auth, Session: sess}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	SpecialistsFile string

	// TrustProxy 为 true 时才信任 X-Forwarded-For / X-Real-IP，仅应在反向代理之后开启。
	TrustProxy bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	trustProxy, err := parseBoolEnv("TRUST_PROXY", false)
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		AllowedOrigins:  splitList(os.Getenv("ALLOWED_ORIGINS")),
		SpecialistsFile: strings.TrimSpace(os.Getenv("SPECIALISTS_FILE")),
		TrustProxy:      trustProxy,
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AssistantsConfig 描述托管的 assistants 服务配置。
type AssistantsConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	UserAvatar string
}

// Enabled 表示是否提供了必需的密钥。
func (c AssistantsConfig) Enabled() bool {
	return c.APIKey != ""
}

// Validate 在缺少 API 密钥时返回 ErrConfigMissing。
func (c AssistantsConfig) Validate() error {
	if !c.Enabled() {
		return fmt.Errorf("%w: API_KEY is not set", ErrConfigMissing)
	}
	return nil
}

func loadAssistantsConfig() (AssistantsConfig, error) {
	timeout, err := parseOptionalDurationEnv("API_TIMEOUT")
	if err != nil {
		return AssistantsConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	cfg := AssistantsConfig{
		APIKey:     apiKey,
		BaseURL:    getEnvOrDefault("API_BASE_URL", "https://api.openai.com/v1"),
		Timeout:    60 * time.Second,
		UserAvatar: getEnvOrDefault("USER_AVATAR_URL", defaultUserAvatar),
	}
	if timeout != nil {
		cfg.Timeout = *timeout
	}
	return cfg, nil
}

// SummaryConfig 描述历史压缩所用的模型配置。
type SummaryConfig struct {
	Provider    string
	Model       string
	Temperature float32

	// Ark 相关配置，仅在 Provider 为 ark 时使用。
	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// ArkEnabled 表示是否提供了 Ark 凭证。
func (c SummaryConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c SummaryConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("%w: Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合", ErrConfigMissing)
	}

	temperature := c.Temperature
	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadSummaryConfig() (SummaryConfig, error) {
	temperature, err := parseOptionalFloatEnv("SUMMARY_TEMPERATURE")
	if err != nil {
		return SummaryConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("SUMMARY_PROVIDER", SummaryProviderOpenAI))
	if provider != SummaryProviderOpenAI && provider != SummaryProviderArk {
		return SummaryConfig{}, fmt.Errorf("invalid SUMMARY_PROVIDER value %q", provider)
	}

	cfg := SummaryConfig{
		Provider:     provider,
		Model:        getEnvOrDefault("SUMMARY_MODEL", "gpt-3.5-turbo"),
		Temperature:  0.5,
		ArkAPIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}
	if temperature != nil {
		cfg.Temperature = float32(*temperature)
	}
	return cfg, nil
}

// AuthConfig 描述凭证文件与登录限流。
type AuthConfig struct {
	CredentialsFile      string
	RequirePreauthorized bool
	LoginRatePerMinute   int
	LoginBurst           int
	SecureCookies        bool
}

func loadAuthConfig() (AuthConfig, error) {
	preauth, err := parseBoolEnv("REGISTRATION_PREAUTHORIZED", false)
	if err != nil {
		return AuthConfig{}, err
	}

	secure, err := parseBoolEnv("COOKIE_SECURE", false)
	if err != nil {
		return AuthConfig{}, err
	}

	cfg := AuthConfig{
		CredentialsFile:      getEnvOrDefault("CREDENTIALS_FILE", "config.yaml"),
		RequirePreauthorized: preauth,
		LoginRatePerMinute:   10,
		LoginBurst:           5,
		SecureCookies:        secure,
	}

	if rate, err := parseOptionalIntEnv("LOGIN_RATE_PER_MINUTE"); err != nil {
		return AuthConfig{}, err
	} else if rate != nil {
		if *rate < 1 {
			return AuthConfig{}, fmt.Errorf("invalid LOGIN_RATE_PER_MINUTE value %d", *rate)
		}
		cfg.LoginRatePerMinute = *rate
	}

	if burst, err := parseOptionalIntEnv("LOGIN_BURST"); err != nil {
		return AuthConfig{}, err
	} else if burst != nil {
		if *burst < 1 {
			cfg.LoginBurst = 1
		} else {
			cfg.LoginBurst = *burst
		}
	}

	return cfg, nil
}

// SessionConfig 描述浏览器会话的 cookie 与过期策略。
type SessionConfig struct {
	CookieName  string
	IdleTimeout time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	idle, err := parseOptionalDurationEnv("SESSION_IDLE_TIMEOUT")
	if err != nil {
		return SessionConfig{}, err
	}

	cfg := SessionConfig{
		CookieName:  getEnvOrDefault("SESSION_COOKIE", "steve_session"),
		IdleTimeout: 12 * time.Hour,
	}
	if idle != nil {
		cfg.IdleTimeout = *idle
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val <= 0 {
		return nil, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return &val, nil
}

package config

import (
	"strings"
	"time"
)

// GatewayConfig represents the SMTP listener configuration
type GatewayConfig struct {
	ListenAddress     string
	Domain            string
	AcceptedDomains   []string
	ActiveUsers       []string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MaxRecipients     int
	QuarantineCode    int
	QuarantineMessage string
}

// RelayConfig represents the downstream delivery configuration
type RelayConfig struct {
	Type        string
	Address     string
	Helo        string
	DialTimeout time.Duration
	Timeout     time.Duration
}

// SESConfig represents the configuration for the Amazon SES relay
type SESConfig struct {
	Region           string
	ConfigurationSet string
}

// PipelineConfig represents the orchestrator configuration
type PipelineConfig struct {
	Timeout        time.Duration
	ScoringTimeout time.Duration
	ExplainTimeout time.Duration
	MLEnabled      bool
	Thresholds     Thresholds
}

// Thresholds are the ascending score boundaries between verdict bands
type Thresholds struct {
	Allow      float64
	Warn       float64
	Quarantine float64
}

// BypassConfig represents the trusted-sender bypass configuration
type BypassConfig struct {
	AllowlistDomains    []string
	SPFRequired         bool
	DKIMOrDMARCRequired bool
}

// Weights are the sub-detector weights of the heuristic engine
type Weights struct {
	Domain  float64
	URL     float64
	Keyword float64
	Auth    float64
}

// Bonuses are the additive constants applied after weighting
type Bonuses struct {
	DoubleExtension    float64
	DangerousExtension float64
	HeaderAnomaly      float64
	HeaderAnomalyCap   float64
	Impersonation      float64
}

// HeuristicConfig represents the heuristic engine configuration
type HeuristicConfig struct {
	Weights           Weights
	CorrelationThree  float64
	CorrelationFour   float64
	Bonuses           Bonuses
	ProtectedDomains  []string
	ResolveShorteners bool
	ResolutionTimeout time.Duration
}

// ParserConfig represents the message parser configuration
type ParserConfig struct {
	TrustedAuthservIDs []string
}

// ResolverConfig represents the URL resolver configuration
type ResolverConfig struct {
	MaxHops    int
	HopTimeout time.Duration
	UserAgent  string
}

// LLMConfig represents the configuration for the explanation providers
type LLMConfig struct {
	Provider          string
	SecondaryProvider string
}

// ClassifierConfig represents the ML scoring provider configuration
type ClassifierConfig struct {
	Source    string
	ModelPath string
	RedisKey  string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// StorageConfig represents the repository configuration
type StorageConfig struct {
	Type        string
	SQLitePath  string
	MySQLDSN    string
	PostgresDSN string
	SeedFile    string
}

// QuarantineConfig represents the quarantine storage configuration
type QuarantineConfig struct {
	Type        string
	Path        string
	RedisPrefix string
}

// MetricsConfig represents the Prometheus exporter configuration
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
}

// GetGateway returns the gateway configuration
func (c *Config) GetGateway() GatewayConfig {
	return GatewayConfig{
		ListenAddress:     c.GetString("gateway.listen_address"),
		Domain:            c.GetString("gateway.domain"),
		AcceptedDomains:   lowerAll(c.GetStringSlice("gateway.accepted_domains")),
		ActiveUsers:       lowerAll(c.GetStringSlice("gateway.active_users")),
		ReadTimeout:       c.GetDuration("gateway.read_timeout"),
		WriteTimeout:      c.GetDuration("gateway.write_timeout"),
		MaxMessageBytes:   int64(c.GetInt("gateway.max_message_bytes")),
		MaxRecipients:     c.GetInt("gateway.max_recipients"),
		QuarantineCode:    c.GetInt("gateway.quarantine_code"),
		QuarantineMessage: c.GetString("gateway.quarantine_message"),
	}
}

// GetRelay returns the relay configuration
func (c *Config) GetRelay() RelayConfig {
	return RelayConfig{
		Type:        c.GetString("relay.type"),
		Address:     c.GetString("relay.address"),
		Helo:        c.GetString("relay.helo"),
		DialTimeout: c.GetDuration("relay.dial_timeout"),
		Timeout:     c.GetDuration("relay.timeout"),
	}
}

// GetSES returns the SES relay configuration
func (c *Config) GetSES() SESConfig {
	return SESConfig{
		Region:           c.GetString("ses.region"),
		ConfigurationSet: c.GetString("ses.configuration_set"),
	}
}

// GetThresholds returns the verdict thresholds
func (c *Config) GetThresholds() Thresholds {
	return Thresholds{
		Allow:      c.GetFloat64("thresholds.allow"),
		Warn:       c.GetFloat64("thresholds.warn"),
		Quarantine: c.GetFloat64("thresholds.quarantine"),
	}
}

// GetPipeline returns the orchestrator configuration
func (c *Config) GetPipeline() PipelineConfig {
	return PipelineConfig{
		Timeout:        c.GetDuration("pipeline.timeout"),
		ScoringTimeout: c.GetDuration("pipeline.scoring_timeout"),
		ExplainTimeout: c.GetDuration("pipeline.explain_timeout"),
		MLEnabled:      c.GetBool("pipeline.ml_enabled"),
		Thresholds:     c.GetThresholds(),
	}
}

// GetBypass returns the bypass configuration
func (c *Config) GetBypass() BypassConfig {
	return BypassConfig{
		AllowlistDomains:    lowerAll(c.GetStringSlice("bypass.allowlist_domains")),
		SPFRequired:         c.GetBool("bypass.spf_required"),
		DKIMOrDMARCRequired: c.GetBool("bypass.dkim_or_dmarc_required"),
	}
}

// GetHeuristic returns the heuristic engine configuration
func (c *Config) GetHeuristic() HeuristicConfig {
	return HeuristicConfig{
		Weights: Weights{
			Domain:  c.GetFloat64("heuristic.weights.domain"),
			URL:     c.GetFloat64("heuristic.weights.url"),
			Keyword: c.GetFloat64("heuristic.weights.keyword"),
			Auth:    c.GetFloat64("heuristic.weights.auth"),
		},
		CorrelationThree: c.GetFloat64("heuristic.correlation.three"),
		CorrelationFour:  c.GetFloat64("heuristic.correlation.four"),
		Bonuses: Bonuses{
			DoubleExtension:    c.GetFloat64("heuristic.bonus.double_extension"),
			DangerousExtension: c.GetFloat64("heuristic.bonus.dangerous_extension"),
			HeaderAnomaly:      c.GetFloat64("heuristic.bonus.header_anomaly"),
			HeaderAnomalyCap:   c.GetFloat64("heuristic.bonus.header_anomaly_cap"),
			Impersonation:      c.GetFloat64("heuristic.bonus.impersonation"),
		},
		ProtectedDomains:  lowerAll(c.GetStringSlice("heuristic.protected_domains")),
		ResolveShorteners: c.GetBool("heuristic.resolve_shorteners"),
		ResolutionTimeout: c.GetDuration("heuristic.resolution_timeout"),
	}
}

// GetParser returns the message parser configuration
func (c *Config) GetParser() ParserConfig {
	return ParserConfig{
		TrustedAuthservIDs: lowerAll(c.GetStringSlice("parser.trusted_authserv_ids")),
	}
}

// GetResolver returns the URL resolver configuration
func (c *Config) GetResolver() ResolverConfig {
	return ResolverConfig{
		MaxHops:    c.GetInt("resolver.max_hops"),
		HopTimeout: c.GetDuration("resolver.hop_timeout"),
		UserAgent:  c.GetString("resolver.user_agent"),
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:          c.GetString("llm.provider"),
		SecondaryProvider: c.GetString("llm.secondary_provider"),
	}
}

// GetClassifier returns the ML classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		Source:    c.GetString("classifier.source"),
		ModelPath: c.GetString("classifier.model_path"),
		RedisKey:  c.GetString("classifier.redis_key"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetStorage returns the repository configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Type:        c.GetString("storage.type"),
		SQLitePath:  c.GetString("storage.sqlite_path"),
		MySQLDSN:    c.GetString("storage.mysql_dsn"),
		PostgresDSN: c.GetString("storage.postgres_dsn"),
		SeedFile:    c.GetString("policy.seed_file"),
	}
}

// GetQuarantine returns the quarantine storage configuration
func (c *Config) GetQuarantine() QuarantineConfig {
	return QuarantineConfig{
		Type:        c.GetString("quarantine.type"),
		Path:        c.GetString("quarantine.path"),
		RedisPrefix: c.GetString("quarantine.redis_prefix"),
	}
}

// GetRedisURL returns the shared Redis connection URL
func (c *Config) GetRedisURL() string {
	return c.GetString("redis.url")
}

// GetMetrics returns the metrics exporter configuration
func (c *Config) GetMetrics() MetricsConfig {
	return MetricsConfig{
		Enabled:       c.GetBool("metrics.enabled"),
		ListenAddress: c.GetString("metrics.listen_address"),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

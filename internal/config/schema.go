package config

// Config holds scanline configuration.
// Stored at: {home}/config.yaml, overridable by environment variables.
type Config struct {
	Azure AzureCfg `mapstructure:"azure" yaml:"azure"`
	OCR   OCRCfg   `mapstructure:"ocr" yaml:"ocr"`

	// HTTPTimeoutSeconds bounds each request to the remote OCR service.
	HTTPTimeoutSeconds int  `mapstructure:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	OfflineMode        bool `mapstructure:"offline_mode" yaml:"offline_mode"`

	Server ServerCfg `mapstructure:"server" yaml:"server"`
}

// AzureCfg configures Azure Document Intelligence.
type AzureCfg struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
	Model      string `mapstructure:"model" yaml:"model"`

	AllowHTTP         bool `mapstructure:"allow_http" yaml:"allow_http"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
}

// OCRCfg configures the gate, fallback and debug output.
type OCRCfg struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	DebugSave           bool    `mapstructure:"debug_save" yaml:"debug_save"`
	DebugDir            string  `mapstructure:"debug_dir" yaml:"debug_dir"`
	FallbackLanguages   string  `mapstructure:"fallback_languages" yaml:"fallback_languages"` // tesseract spec, e.g. "eng+spa"
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

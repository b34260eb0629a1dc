package http

const (
	defaultBytesPerSecond  = 100 * 1024 * 1024
	defaultMaxConcurrentIO = 3
)

// Config configures an HTTP agent server. Dual json/yaml tags, matching the
// teacher's config struct, so it can be embedded in snapctl's own
// yaml-loaded configuration file.
type Config struct {
	Host                  string   `json:"host" yaml:"host"`
	Port                  int      `json:"port" yaml:"port"`
	AuthenticationTokens  []string `json:"authenticationTokens" yaml:"authenticationTokens"`
	SpeedBytesPerSecond   int64    `json:"speedBytesPerSecond" yaml:"speedBytesPerSecond"`
	AllowSpeedOverride    bool     `json:"allowSpeedOverride" yaml:"allowSpeedOverride"`
	MaxConcurrentReceives int      `json:"maxConcurrentReceives" yaml:"maxConcurrentReceives"`
}

// ApplyDefaults fills in zero-valued fields with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.SpeedBytesPerSecond == 0 {
		c.SpeedBytesPerSecond = defaultBytesPerSecond
	}
	if c.MaxConcurrentReceives == 0 {
		c.MaxConcurrentReceives = defaultMaxConcurrentIO
	}
}

package config

// Config holds client configuration values.
type Config struct {
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
	Room      string `mapstructure:"room" yaml:"room,omitempty"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		SocketURL: "ws://localhost:8080/ws",
		APIURL:    "http://localhost:8080/api",
		LogLevel:  "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.SocketURL != "" {
		c.SocketURL = other.SocketURL
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.Room != "" {
		c.Room = other.Room
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

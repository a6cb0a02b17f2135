package config

import "path/filepath"

// PrivateServerConfig describes one statically configured upstream backend.
// Only the fields relevant to ProxyType are populated by the operator; the
// rest are zero values.
type PrivateServerConfig struct {
	ProxyType         string `mapstructure:"proxy_type"`
	AppID             string `mapstructure:"appid"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	EncryptMethod     string `mapstructure:"encrypt_method"`
	TransportType     string `mapstructure:"transport_type"`
	TrafficType       string `mapstructure:"traffic_type"`
	ConnectionsCount  int    `mapstructure:"connections_count"`
	Path              string `mapstructure:"path"`
	GoAgentPassword   string `mapstructure:"goagent_password"`
}

// PublicServersConfig describes the DNS-TXT directory lookup source plus
// which discovered backend types are permitted to be instantiated.
type PublicServersConfig struct {
	Source              string `mapstructure:"source"`
	GoAgentEnabled       bool   `mapstructure:"goagent_enabled"`
	SSHEnabled           bool   `mapstructure:"ssh_enabled"`
	ShadowsocksEnabled   bool   `mapstructure:"shadowsocks_enabled"`
	HTTPEnabled          bool   `mapstructure:"http_enabled"`
	SPDYEnabled          bool   `mapstructure:"spdy_enabled"`
}

// Enabled reports whether the given directory backend type tag is
// permitted by this configuration.
func (p PublicServersConfig) Enabled(backendType string) bool {
	switch backendType {
	case "GoAgent":
		return p.GoAgentEnabled
	case "SSH":
		return p.SSHEnabled
	case "Shadowsocks":
		return p.ShadowsocksEnabled
	case "HTTP":
		return p.HTTPEnabled
	case "SPDY":
		return p.SPDYEnabled
	default:
		return false
	}
}

// FlagsConfig mirrors the registry's runtime-mutable global flags. These
// are the initial values loaded at startup; after that they live in the
// registry's atomics, and each reload stores all of them again from the file.
type FlagsConfig struct {
	AutoFixEnabled            bool `mapstructure:"auto_fix_enabled"`
	ChinaShortcutEnabled      bool `mapstructure:"china_shortcut_enabled"`
	DirectAccessEnabled       bool `mapstructure:"direct_access_enabled"`
	TCPScramblerEnabled       bool `mapstructure:"tcp_scrambler_enabled"`
	GoogleScramblerEnabled    bool `mapstructure:"google_scrambler_enabled"`
	GoAgentPublicEnabled      bool `mapstructure:"goagent_public_servers_enabled"`
	SSPublicEnabled           bool `mapstructure:"ss_public_servers_enabled"`
	ForceUSIP                 bool `mapstructure:"force_us_ip"`
}

// ListenConfig is the front-door listener bind address.
type ListenConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig mirrors internal/logger.Config's YAML-facing shape.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	LogDir     string `mapstructure:"log_dir"`
	Theme      string `mapstructure:"theme"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	FileOutput bool   `mapstructure:"file_output"`
	PrettyLogs bool   `mapstructure:"pretty_logs"`
}

// Config is the fully decoded configuration document.
type Config struct {
	Listen         ListenConfig                   `mapstructure:"listen"`
	PrivateServers map[string]PrivateServerConfig `mapstructure:"private_servers"`
	PublicServers  PublicServersConfig            `mapstructure:"public_servers"`
	DirectoryName  string                         `mapstructure:"directory_name"`
	Logging        LoggingConfig                  `mapstructure:"logging"`
	Flags          FlagsConfig                    `mapstructure:"flags"`

	// ConfigFile is not part of the decoded document; it's the path Viper
	// resolved the config from, used only to derive the US-IP cache location.
	ConfigFile string `mapstructure:"-"`
}

// USIPCachePath derives the US-IP membership cache file location from the
// directory holding ConfigFile, per the external-interfaces contract.
func (c *Config) USIPCachePath() string {
	dir := filepath.Dir(c.ConfigFile)
	return filepath.Join(dir, "us_ip")
}

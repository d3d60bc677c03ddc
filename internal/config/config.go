package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Serial    SerialConfig    `mapstructure:"serial"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// SerialConfig 串口平台配置
type SerialConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	MockMode      bool           `mapstructure:"mock_mode"` // 使用内存回环设备
	Driver        string         `mapstructure:"driver"`    // bugst / tarm / goburrow
	PollInterval  time.Duration  `mapstructure:"poll_interval"`
	WatchInterval time.Duration  `mapstructure:"watch_interval"` // 0 表示不监视设备插拔
	Chooser       string         `mapstructure:"chooser"`        // selection / allowlist
	Allowlist     []string       `mapstructure:"allowlist"`
	MockPorts     []string       `mapstructure:"mock_ports"`
	Defaults      SerialDefaults `mapstructure:"defaults"`
	LogTraffic    bool           `mapstructure:"log_traffic"`
}

// SerialDefaults 打开端口时未填写字段的默认值
type SerialDefaults struct {
	BaudRate    int    `mapstructure:"baud_rate"`
	DataBits    int    `mapstructure:"data_bits"`
	StopBits    int    `mapstructure:"stop_bits"`
	Parity      string `mapstructure:"parity"`
	BufferSize  int    `mapstructure:"buffer_size"`
	FlowControl string `mapstructure:"flow_control"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	CleanSession   bool          `mapstructure:"clean_session"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	Topics         MQTTTopics    `mapstructure:"topics"`
}

// MQTTTopics MQTT主题配置
type MQTTTopics struct {
	Event  string `mapstructure:"event"`
	Status string `mapstructure:"status"`
}

// NotifyConfig 提示框配置
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Selector string `mapstructure:"selector"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT      JWTConfig      `mapstructure:"jwt"`
	Operator OperatorConfig `mapstructure:"operator"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// OperatorConfig 操作员账号，password_hash 为 argon2id 编码
type OperatorConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("SERIAL_BRIDGE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		// 配置文件不存在时使用默认配置
		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = Validate(loaded); err != nil {
			return
		}
		replaceMQTTTopics(loaded)

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/serial-bridge.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	v.SetDefault("serial.enabled", true)
	v.SetDefault("serial.mock_mode", false)
	v.SetDefault("serial.driver", "bugst")
	v.SetDefault("serial.poll_interval", "100ms")
	v.SetDefault("serial.watch_interval", "2s")
	v.SetDefault("serial.chooser", "selection")
	v.SetDefault("serial.mock_ports", []string{"/dev/ttyMOCK0"})
	v.SetDefault("serial.defaults.baud_rate", 9600)
	v.SetDefault("serial.defaults.data_bits", 8)
	v.SetDefault("serial.defaults.stop_bits", 1)
	v.SetDefault("serial.defaults.parity", "none")
	v.SetDefault("serial.defaults.buffer_size", 255)
	v.SetDefault("serial.defaults.flow_control", "none")
	v.SetDefault("serial.log_traffic", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "serial-bridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.auto_reconnect", true)
	v.SetDefault("mqtt.connect_timeout", "5s")
	v.SetDefault("mqtt.keep_alive", "30s")
	v.SetDefault("mqtt.topics.event", "serial-bridge/{client_id}/event")
	v.SetDefault("mqtt.topics.status", "serial-bridge/{client_id}/status")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.selector", ".toast")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "serial-bridge.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("security.jwt.secret", "change-me")
	v.SetDefault("security.jwt.expire_hours", 12)
	v.SetDefault("security.operator.username", "admin")
	v.SetDefault("security.operator.role", "admin")
}

// Validate 校验配置
func Validate(c *Config) error {
	switch c.Serial.Driver {
	case "bugst", "tarm", "goburrow":
	default:
		return fmt.Errorf("unsupported serial driver: %q", c.Serial.Driver)
	}
	switch c.Serial.Chooser {
	case "selection", "allowlist":
	default:
		return fmt.Errorf("unsupported serial chooser: %q", c.Serial.Chooser)
	}
	if c.Serial.Chooser == "allowlist" && len(c.Serial.Allowlist) == 0 {
		return fmt.Errorf("serial.allowlist is empty")
	}
	if c.Serial.PollInterval <= 0 {
		return fmt.Errorf("serial.poll_interval must be positive")
	}
	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is empty")
	}
	return nil
}

// replaceMQTTTopics 替换MQTT主题中的变量
func replaceMQTTTopics(c *Config) {
	if c == nil {
		return
	}
	clientID := c.MQTT.ClientID
	c.MQTT.Topics.Event = strings.ReplaceAll(c.MQTT.Topics.Event, "{client_id}", clientID)
	c.MQTT.Topics.Status = strings.ReplaceAll(c.MQTT.Topics.Status, "{client_id}", clientID)
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := Validate(newCfg); err != nil {
			fmt.Printf("配置校验失败，保留旧配置: %v\n", err)
			return
		}
		replaceMQTTTopics(newCfg)

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// ConfigFile 返回正在使用的配置文件路径
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

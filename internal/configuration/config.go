package configuration

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	UsersCollection         string `json:"usersCollection"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	TokenTTL  string `json:"token_ttl"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Server       ServerConfig `json:"server"`
	Auth         AuthConfig   `json:"auth"`
}

// LoadConfig reads the JSON config file and applies environment overrides,
// so deployments can keep secrets out of the file.
func LoadConfig(configPath string) (*Config, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MONGO_URI"); v != "" {
		config.ChatDatabase.Uri = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.AppPort = p
		}
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.AppPort == 0 {
		config.Server.AppPort = 8080
	}
	if config.Server.SocketRoute == "" {
		config.Server.SocketRoute = "ws"
	}
	if config.ChatDatabase.MessagesCollection == "" {
		config.ChatDatabase.MessagesCollection = "messages"
	}
	if config.ChatDatabase.ConversationsCollection == "" {
		config.ChatDatabase.ConversationsCollection = "conversations"
	}
	if config.ChatDatabase.UsersCollection == "" {
		config.ChatDatabase.UsersCollection = "users"
	}
}

// TokenTTLDuration parses the configured token lifetime, defaulting to 24h.
func (a AuthConfig) TokenTTLDuration() time.Duration {
	if a.TokenTTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(a.TokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

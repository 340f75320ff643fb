package config

import "time"

type Config struct {
	LogLevel  string `mapstructure:"logLevel"`
	Server    ServerConfig
	Transport TransportConfig
	Queue     QueueConfig
	Chat      ChatConfig
	Client    ClientConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	TokenSecret string `mapstructure:"tokenSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type QueueConfig struct {
	// LobbySize is the threshold at which the default policy forms a lobby.
	LobbySize int `mapstructure:"lobbySize"`
	// Servers is the static directory of queueable game servers.
	Servers []ServerEntry `mapstructure:"servers"`
}

type ServerEntry struct {
	ID             int    `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	ShortName      string `mapstructure:"shortName"`
	CC             string `mapstructure:"cc"`
	ConnectURL     string `mapstructure:"connectUrl"`
	ConnectCommand string `mapstructure:"connectCommand"`
}

type ChatConfig struct {
	// HistoryLimit bounds the authoritative retained log.
	HistoryLimit int `mapstructure:"historyLimit"`
}

type ClientConfig struct {
	// URL is the authority endpoint the client binary dials.
	URL string `mapstructure:"url"`
	// Token is the identity token; empty connects as a guest.
	Token string `mapstructure:"token"`
	// AutoJoin lists server ids the client queues for on every connect.
	AutoJoin []int `mapstructure:"autoJoin"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectDelay"`
	// WindowSize bounds the client-side chat window.
	WindowSize int `mapstructure:"windowSize"`
}

package main

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabasePath   string        `env:"DATABASE_PATH" envDefault:"gametable.db"`
	SwapRequestTTL time.Duration `env:"SWAP_REQUEST_TTL" envDefault:"30s"`
	ActivityLimit  int           `env:"ACTIVITY_LIMIT" envDefault:"50"`
	ChatLogLimit   int           `env:"CHAT_LOG_LIMIT" envDefault:"100"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
}

func loadConfig() (Config, error) {
	return env.ParseAs[Config]()
}

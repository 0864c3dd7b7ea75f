package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN       string
	MongoURI          string
	RedisAddr         string
	RabbitURL         string
	ListenAddr        string
	AvailabilityMode  string
	GatewayDelay      time.Duration
	ChargeSuccessRate float64
	RefundSuccessRate float64
	OTLPEndpoint      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	gatewayDelay, _ := time.ParseDuration(os.Getenv("GATEWAY_DELAY"))
	if gatewayDelay == 0 {
		gatewayDelay = time.Second
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return &Config{
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		ListenAddr:        listenAddr,
		AvailabilityMode:  os.Getenv("AVAILABILITY_COUNT_MODE"),
		GatewayDelay:      gatewayDelay,
		ChargeSuccessRate: envFloat("GATEWAY_CHARGE_SUCCESS_RATE", 0.95),
		RefundSuccessRate: envFloat("GATEWAY_REFUND_SUCCESS_RATE", 0.98),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 || v > 1 {
		return def
	}
	return v
}

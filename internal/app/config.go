package app

import (
	"os"
	"strings"
)

// Config описывает настройки запуска сервиса синхронизации.
type Config struct {
	// MetricsAddr — адрес HTTP-сервера метрик и health checks.
	MetricsAddr string
	// APIBaseURL — базовый URL REST API бэкенда заказов.
	APIBaseURL string
	// APIToken — bearer-токен авторизации клиента.
	APIToken string
	// KafkaBrokers — список брокеров push-канала; пустой список
	// отключает канал (сервис работает только по pull).
	KafkaBrokers []string
	// KafkaGroupID — consumer group push-канала.
	KafkaGroupID string
	// PostgresDSN — подключение к архиву снапшотов; пустая строка
	// отключает архив (кеш живёт только в памяти).
	PostgresDSN string
	// CustomerID ограничивает прогрев архива одним клиентом.
	CustomerID string
}

// DefaultConfig возвращает базовую конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:  ":9090",
		APIBaseURL:   "http://localhost:3000/api",
		KafkaGroupID: "order-sync",
	}
}

// ReadConfig формирует конфигурацию из переменных окружения поверх
// значений по умолчанию.
func ReadConfig() Config {
	return readConfig(os.Getenv)
}

func readConfig(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if v := getenv("OSYNC_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("OSYNC_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := getenv("OSYNC_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := getenv("OSYNC_KAFKA_BROKERS"); v != "" {
		for _, broker := range strings.Split(v, ",") {
			broker = strings.TrimSpace(broker)
			if broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if v := getenv("OSYNC_KAFKA_GROUP"); v != "" {
		cfg.KafkaGroupID = v
	}
	if v := getenv("OSYNC_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := getenv("OSYNC_CUSTOMER_ID"); v != "" {
		cfg.CustomerID = v
	}
	return cfg
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	ctopics "github.com/radieske/live-odds-relay/pkg/contracts/topics"
)

// Config centraliza variáveis de ambiente e parâmetros de execução dos serviços
// Inclui fornecedor de odds, política de reconexão, conexões opcionais e portas
type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string // ex: "odds-relay", "provider-simulator", "odds-watch"
	LogFile     string // quando definido, logs também vão para arquivo rotacionado

	// Fornecedor de odds (stream SSE por esporte + REST de snapshot)
	OddsAPIKey        string
	Sportsbook        string
	StreamBaseURL     string
	RESTBaseURL       string
	UpstreamMarket    string // filtro opcional de mercado no upstream
	UpstreamFixture   string // filtro opcional de fixture no upstream
	UpstreamCloseWait time.Duration

	// Política de reconexão e backlog por assinante
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxBacklog           int
	AllowedOrigins       []string

	// Dependências opcionais (string vazia desliga o componente)
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string // "a:9092,b:9092"

	// Tópicos/canais
	TopicOddsUpdates   string
	RedisPubSubChannel string
	RedisBusPrefix     string

	// Relay usado pelo odds-watch
	RelayWSURL string

	// Portas do serviço atual
	HTTPPort    string // Porta pública (ws, sse, REST)
	MetricsPort string // Porta exclusiva para /metrics e /healthz
}

// Load carrega .env (se existir), variáveis de ambiente e define defaults para cada serviço
// Resolve portas conforme o SERVICE_NAME
func Load() Config {
	return LoadService("odds-relay")
}

// LoadService é Load com o nome de serviço usado quando SERVICE_NAME não está definido
func LoadService(defaultName string) Config {
	// .env é opcional; variáveis já exportadas têm precedência
	_ = godotenv.Load()

	svc := getEnv("SERVICE_NAME", defaultName)
	env := getEnv("ENV", "local")

	cfg := Config{
		Env:         env,
		ServiceName: svc,
		LogFile:     getEnv("LOG_FILE", ""),

		OddsAPIKey:        getEnv("ODDS_API_KEY", ""),
		Sportsbook:        getEnv("ODDS_SPORTSBOOK", "Pinnacle"),
		StreamBaseURL:     getEnv("ODDS_STREAM_BASE_URL", "https://api.opticodds.com/api/v3/stream"),
		RESTBaseURL:       getEnv("ODDS_REST_BASE_URL", "https://api.opticodds.com/api/v3"),
		UpstreamMarket:    getEnv("ODDS_MARKET", ""),
		UpstreamFixture:   getEnv("ODDS_FIXTURE_ID", ""),
		UpstreamCloseWait: getEnvDuration("ODDS_CLOSE_GRACE", 2*time.Second),

		MaxReconnectAttempts: getEnvInt("RELAY_MAX_RECONNECT_ATTEMPTS", 5),
		BackoffBase:          getEnvDuration("RELAY_BACKOFF_BASE", time.Second),
		BackoffMax:           getEnvDuration("RELAY_BACKOFF_MAX", 30*time.Second),
		MaxBacklog:           getEnvInt("RELAY_MAX_BACKLOG", 256),
		AllowedOrigins:       splitList(getEnv("RELAY_ALLOWED_ORIGINS", "*")),

		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),

		TopicOddsUpdates:   getEnv("KAFKA_TOPIC_ODDS", ctopics.OddsUpdates),
		RedisPubSubChannel: getEnv("REDIS_PUBSUB_CHANNEL", ctopics.OddsBroadcastChannel),
		RedisBusPrefix:     getEnv("REDIS_BUS_PREFIX", ctopics.RelayBusPrefix),

		RelayWSURL: getEnv("RELAY_WS_URL", "ws://localhost:8080/ws"),
	}

	// Define portas padrão para cada serviço
	switch svc {
	case "provider-simulator":
		cfg.HTTPPort = getEnv("HTTP_PORT_PROVIDER", "8081")
		cfg.MetricsPort = getEnv("METRICS_PORT_PROVIDER", "9094")
	case "odds-watch":
		cfg.HTTPPort = getEnv("HTTP_PORT_WATCH", "") // cliente não expõe HTTP
		cfg.MetricsPort = getEnv("METRICS_PORT_WATCH", "9096")
	default:
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
		cfg.MetricsPort = getEnv("METRICS_PORT", "9095")
	}

	return cfg
}

// Brokers devolve a lista de brokers Kafka (vazia quando desligado)
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// getEnv retorna o valor da variável de ambiente ou o default
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration aceita "1s", "500ms" ou um inteiro em milissegundos
func getEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

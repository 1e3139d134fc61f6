package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/tellergo/teller"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cfg teller.Config
	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfgfl, err := os.Open(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening config file")
	}
	if err = yaml.NewDecoder(cfgfl).Decode(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("error decoding config file")
	}

	pgendpt, err := teller.NewPostgresEndpoint(cfg.Database.ConnectionString, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}

	var cache teller.Cache
	if cfg.Redis.Addr != "" {
		cache = teller.NewRedisCache(cfg.Redis.Addr, time.Duration(cfg.Redis.TTLSeconds)*time.Second, &logger)
	}

	var pub teller.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		pub = teller.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	svc, err := teller.NewService(pgendpt, cache, pub, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting service")
	}

	var wrapped teller.Service = svc
	if cfg.MaxInFlight > 0 {
		wrapped = teller.NewLimitMiddleware(teller.NewServiceLimits(cfg.MaxInFlight))(wrapped)
	}
	wrapped = teller.NewCircuitBreakMiddleware(teller.NewServiceBreaker())(wrapped)
	wrapped = teller.NewValidationMiddleware()(wrapped)

	hndlr := teller.NewHTTPHandler(wrapped, &logger)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":3000"
	}
	if err = http.ListenAndServe(addr, hndlr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

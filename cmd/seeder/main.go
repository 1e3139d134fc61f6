package main

import (
	"flag"
	"os"

	"github.com/tellergo/teller"

	"github.com/bwmarrin/snowflake"
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

	lh, err := teller.NewLocalHelper(&cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting local helper")
	}
	if _, err = lh.InitDB(); err != nil {
		logger.Fatal().Err(err).Msg("error initializing database")
	}

	node, err := snowflake.NewNode(111)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating snowflake node")
	}
	seeds := []teller.SeedAccount{
		{ID: node.Generate(), Email: "alice@teller.dev", Type: teller.AcctSavings, Balance: "500.00"},
		{ID: node.Generate(), Email: "bob@teller.dev", Type: teller.AcctCurrent, Balance: "300.00"},
		{ID: node.Generate(), Email: "carol@teller.dev", Type: teller.AcctSavings, Balance: "50.00"},
	}
	if err = lh.SeedAccounts(seeds); err != nil {
		logger.Fatal().Err(err).Msg("error seeding accounts")
	}
	for _, sa := range seeds {
		logger.Info().
			Str("account", sa.ID.String()).
			Str("email", sa.Email).
			Msg("seeded account")
	}
}

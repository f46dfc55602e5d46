package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/config"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/state"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Starting database reset script...")

	dbCfg, ok, err := config.LoadDBConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database configuration")
	}
	if !ok {
		log.Fatal().Msg("DB_USER and DB_NAME environment variables must be set.")
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	log.Info().Msg("Connected to database. Dropping and recreating all tables...")
	if err := state.ResetSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset database schema")
	}

	log.Info().Msg("Database reset complete!")
}

package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the core reads at
// startup. Nothing here is reloaded after boot.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Query  QueryConfig
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	Port string
}

// StoreConfig controls the tile store's backing file and compression.
type StoreConfig struct {
	DataDir       string
	GzipLevel     int
	MaxStoreBytes int64
	TileSize      int
}

// QueryConfig controls batch caps for the tile query surfaces.
type QueryConfig struct {
	MaxBatchHTTP int
	MaxBatchWS   int
}

// Load reads configuration from the environment (and a .env file, if
// present), applying the defaults from spec §6.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
		},
		Store: StoreConfig{
			DataDir:       getEnv("DATA_DIR", "./data"),
			GzipLevel:     getInt("DB_GZIP_LEVEL", 9),
			MaxStoreBytes: getInt64("MAX_STORE_BYTES", 1<<30),
			TileSize:      getInt("TILE_SIZE", 1024),
		},
		Query: QueryConfig{
			MaxBatchHTTP: getInt("MAX_BATCH_HTTP", 500),
			MaxBatchWS:   getInt("MAX_BATCH_WS", 1000),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

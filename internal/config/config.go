package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey      string
	GoogleClientID    string
	DatabaseURL       string
	HTTPPort          string
	LogLevel          string
	JWTSecret         string
	CORSAllowedOrigin string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GoogleClientID:    getEnv("GOOGLE_CLIENT_ID", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "eduhub.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	// A missing API key is not fatal: every generation operation degrades
	// to an explicit configuration error instead.
	if AppConfig.GeminiAPIKey == "" {
		log.Println("GEMINI_API_KEY is not set; generation features will be unavailable")
	}
	if AppConfig.GoogleClientID == "" {
		log.Println("GOOGLE_CLIENT_ID is not set; Google sign-in will be unavailable")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

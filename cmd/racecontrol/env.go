package main

import (
	"os"

	"github.com/joho/godotenv"
)

// loadEnv reads .env from the working directory into the process
// environment. A missing file is fine; system env and flag defaults apply.
func loadEnv() {
	_ = godotenv.Load()
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

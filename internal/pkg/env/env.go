package env

import (
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

// Env holds the values read from the first .env file that was found.
var Env map[string]string

// GetEnv returns the process value of key, then the .env value, then def.
func GetEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	if val, ok := Env[key]; ok {
		return val
	}
	return def
}

// SetupEnvFile reads the first .env file it finds and exports its values into
// the process environment, so typed config parsing sees them as well.
// Variables already present in the environment win over the file.
func SetupEnvFile() {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/payfox to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		values, err := godotenv.Read(envFile)
		if err != nil {
			continue
		}
		Env = values
		for k, v := range values {
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, v)
			}
		}
		log.Infof("[Env] Loaded %s", envFile)
		return
	}

	// Containers usually inject the environment directly.
	log.Warn("[Env] No .env file found, using process environment only")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

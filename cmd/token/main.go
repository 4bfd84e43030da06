// Command token mints a bearer token for the scheduling API using the
// SECRET_KEY from the environment or .env file.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/pkg/utils"
)

func main() {
	subject := flag.String("subject", "postflow-client", "token subject")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	if cfg.SecretKey == "" {
		log.Fatal("SECRET_KEY is not set; the API accepts unauthenticated requests")
	}

	token, err := utils.GenerateToken(cfg.SecretKey, *subject, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}

// Команда issue-link печатает ссылки-токены для поставщика или заказчика.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"rfqdesk/internal/config"
	"rfqdesk/internal/token"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	email := flag.String("email", "", "vendor or requester email")
	rfqID := flag.String("rfq", "", "RFQ id")
	audience := flag.String("aud", token.AudienceVendor, "vendor or requester")
	baseURL := flag.String("base", "", "public base URL, e.g. https://quotes.example.com")
	flag.Parse()

	if *email == "" || *rfqID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *audience != token.AudienceVendor && *audience != token.AudienceRequester {
		fmt.Fprintf(os.Stderr, "unknown audience %q\n", *audience)
		os.Exit(2)
	}

	cfg, err := config.LoadTokens()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	tok, err := token.Issue(cfg.TokenSecret, *email, *rfqID, *audience, cfg.TokenTTL)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		os.Exit(1)
	}

	path := "/vendor/items/"
	if *audience == token.AudienceRequester {
		path = "/awards/items/"
	}
	fmt.Println(strings.TrimRight(*baseURL, "/") + path + *rfqID + "/" + tok)
}

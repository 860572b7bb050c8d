package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/price-relay/internal/config"
)

// ApplicationName is reported to the server for every connection.
const ApplicationName = "price-relay"

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", ApplicationName)

	// Credentials may contain URL metacharacters
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params.Encode(),
	)
}

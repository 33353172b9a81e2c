// Package moviedb is a thin query client for the CymbalFlix demo database
// on a provisioned AlloyDB cluster. It consumes only what provisioning
// exposes: the primary instance IP and the caller's IAM identity. IAM
// database authentication uses a short-lived OAuth2 access token as the
// connection password, so there are no database credentials to manage.
package moviedb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/alloyform-io/alloyform/internal/logging"
)

// Config identifies the database endpoint and IAM identity.
type Config struct {
	Host     string // primary instance IP address
	Port     int    // defaults to 5432
	Database string // defaults to "cymbalflix"
	User     string // IAM email
}

// Client wraps a pgx connection pool with IAM token authentication.
type Client struct {
	pool *pgxpool.Pool
}

// alloydbTokenSource mints access tokens scoped for AlloyDB IAM login.
func alloydbTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	return google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/alloydb.login")
}

// Connect opens a connection pool to the demo database. The pool refreshes
// the IAM token on every new connection, so long-lived pools survive token
// expiry.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user (IAM email) is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Database == "" {
		cfg.Database = "cymbalflix"
	}

	ts, err := alloydbTokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token source: %w", err)
	}

	connString := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=require",
		cfg.Host, cfg.Port, cfg.Database, cfg.User)
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	poolCfg.MaxConns = 5
	poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("failed to mint IAM token: %w", err)
		}
		cc.Password = tok.AccessToken
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	logging.Debug("connected to movie database", "host", cfg.Host, "database", cfg.Database, "user", cfg.User)
	return &Client{pool: pool}, nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Ping verifies connectivity and returns the connected identity.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var user string
	if err := c.pool.QueryRow(ctx, "SELECT current_user").Scan(&user); err != nil {
		return "", fmt.Errorf("failed to query current user: %w", err)
	}
	return user, nil
}

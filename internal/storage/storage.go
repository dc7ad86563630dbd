// Package storage implements the pgx-backed data model: the golden sku
// catalog, the raw provider buffer, promoted offers, and the admin
// pattern-phrase/suggestion tables.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps the pgx connection pool used by every repository in this
// package.
type Pool struct {
	*pgxpool.Pool
}

// Connect opens a tuned connection pool against databaseURL.
func Connect(ctx context.Context, databaseURL string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &Pool{pool}, nil
}

// Migrate applies the embedded schema. It is idempotent: every
// statement is CREATE ... IF NOT EXISTS.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository method run either standalone or inside the caller's
// transaction (the reconciler always runs inside one, so a dry run can
// roll back cleanly).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// GoldenSku is a curated catalog entry. It is never created by ingestion.
type GoldenSku struct {
	ID            int64
	SkuKey        string
	Model         string
	Storage       string
	Color         string
	Condition     string
	SimVariant    string
	LockState     string
	RegionVariant string
	DisplayName   string
	MsrpUSD       *float64
}

// Merchant is lazily created on first reference from a raw offer.
type Merchant struct {
	ID                int64
	NormalizedName    string
	DisplayName       string
	Tier              string
	Verified          bool
	Blacklisted       bool
	HasPhysicalStore  bool
}

// RawOffer is one row in the append-mostly raw buffer.
type RawOffer struct {
	ID                    int64
	Source                string
	SourceRequestKey      string
	SourceProductID       *string
	CountryCode           string
	RawTitle              string
	MerchantName          string
	ProductLink           string
	ProductLinkHash       string
	DetailToken           *string
	SecondHandCondition   *string
	Thumbnail             string
	PriceLocal            float64
	Currency              string
	ParsedAttrsJSON       []byte
	FlagsJSON             []byte
	MatchReasonCodesJSON  []byte
	MatchedSkuID          *int64
	MatchConfidence       *float64
	IngestedAt            time.Time
}

// Offer is a promoted, ranking-ready row.
type Offer struct {
	ID                    int64
	SkuID                 int64
	MerchantID            *int64
	DedupKey              string
	CountryCode           string
	MerchantName          string
	City                  *string
	PriceLocal            float64
	Currency              string
	PriceUSD              float64
	FinalEffectivePrice   float64
	PriceLocalFormatted   string
	TrustScore            int
	TrustReasonCodesJSON  []byte
	Availability          string
	Condition             string
	SimVariant            *string
	WarrantyInfo          *string
	Restrictions          *string
	ProviderLink          string
	MerchantURL           *string
	DetailToken           *string
	UnknownShipping       bool
	UnknownRefund         bool
	Source                string
	MatchConfidence       float64
	MatchReasonCodesJSON  []byte
}

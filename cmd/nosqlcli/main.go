// Command nosqlcli is a thin demonstration of wiring a nosqldb.Client end to
// end: config from flags and environment, an auth provider chosen by
// deployment kind, and a single GetTable or Query execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvstore-labs/nosql-go-sdk/internal/httputil"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlauth"
	"github.com/kvstore-labs/nosql-go-sdk/nosqldb"
)

func main() {
	var (
		serviceURL  = flag.String("service-url", "", "proxy service URL, e.g. https://nosql.example.com:443")
		table       = flag.String("table", "", "table name to fetch with GetTable")
		statement   = flag.String("query", "", "query statement to run instead of GetTable")
		onPrem      = flag.Bool("on-prem", false, "use on-prem bootstrap login instead of cloud auth")
		loginURL    = flag.String("login-url", "", "on-prem login endpoint (required with -on-prem)")
		username    = flag.String("username", "", "on-prem login username")
		password    = flag.String("password", "", "on-prem login password")
		rateLimited = flag.Bool("rate-limit", false, "enable client-side rate limiting")
		timeout     = flag.Duration("timeout", 5*time.Second, "per-request timeout")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "nosqlcli").Logger()

	if *serviceURL == "" {
		logger.Fatal().Msg("-service-url is required")
	}
	if *table == "" && *statement == "" {
		logger.Fatal().Msg("one of -table or -query is required")
	}

	opts := []nosqldb.Option{
		nosqldb.WithLogger(logger),
		nosqldb.WithRateLimiting(*rateLimited, 100),
		nosqldb.WithDefaultRequestTimeout(*timeout),
	}

	if *onPrem {
		if *loginURL == "" || *username == "" {
			logger.Fatal().Msg("-login-url and -username are required with -on-prem")
		}
		provider := nosqlauth.NewOnPremLoginProvider(*loginURL, *username, *password)
		opts = append(opts, nosqldb.WithAuthProvider(provider, false))
	} else {
		source := envTokenSource{}
		provider := nosqlauth.NewCloudProvider(*serviceURL, source)
		opts = append(opts, nosqldb.WithAuthProvider(provider, true))
	}

	cfg, err := nosqldb.New(*serviceURL, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("building config")
	}

	transport := httputil.NewClient(cfg.ConnectionPoolSize, cfg.MaxContentLength, nil)
	client := nosqldb.NewClient(cfg, transport)
	defer client.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *statement != "" {
		runQuery(ctx, client, *table, *statement)
		return
	}
	runGetTable(ctx, client, *table)
}

func runGetTable(ctx context.Context, client *nosqldb.Client, table string) {
	result, err := client.GetTable(ctx, nosqldb.NewGetTableRequest(table))
	if err != nil {
		fmt.Fprintf(os.Stderr, "get-table failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("table=%s limits=%+v\n", result.TableName, result.Limits)
}

func runQuery(ctx context.Context, client *nosqldb.Client, table, statement string) {
	req := nosqldb.NewQueryRequest(table, statement)
	result, err := client.Query(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rows=%d hasMore=%v\n", len(result.Rows), result.Driver != nil)

	for result.Driver != nil && len(result.ContinuationKey) > 0 {
		result, err = client.Query(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "query continuation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rows=%d hasMore=%v\n", len(result.Rows), result.Driver != nil)
	}
}

// envTokenSource reads a bearer token from NOSQL_CLOUD_TOKEN. It is a
// placeholder TokenSource for this demo CLI; a production caller would
// exchange a credential with the cloud identity provider instead.
type envTokenSource struct{}

func (envTokenSource) RequestToken(_ context.Context, _ string) (string, time.Time, error) {
	token := os.Getenv("NOSQL_CLOUD_TOKEN")
	if token == "" {
		return "", time.Time{}, fmt.Errorf("nosqlcli: NOSQL_CLOUD_TOKEN is not set")
	}
	return token, time.Now().Add(time.Hour), nil
}

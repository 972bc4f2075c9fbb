package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/leads"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// LeadStore bundles the configured lead repository with its summary reader
// and a release function for any pools it opened.
type LeadStore struct {
	Repository leads.Repository
	Summaries  leads.SummaryReader
	Close      func()
}

// BuildLeadStore opens the lead store named by LEAD_STORE.
func BuildLeadStore(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*LeadStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.LeadStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		logger.Info("lead store: postgres")
		return &LeadStore{
			Repository: leads.NewPostgresRepository(pool),
			Summaries:  leads.NewSQLSummaryReader(sqlDB),
			Close: func() {
				_ = sqlDB.Close()
				pool.Close()
			},
		}, nil
	case "dynamodb":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: LEAD_STORE=dynamodb requires AWS configuration")
		}
		repo := leads.NewDynamoRepository(dynamodb.NewFromConfig(*awsCfg), cfg.LeadsTable)
		logger.Info("lead store: dynamodb", "table", cfg.LeadsTable)
		return &LeadStore{Repository: repo, Summaries: repo, Close: func() {}}, nil
	default:
		logger.Warn("lead store: memory; leads are lost on restart")
		repo := leads.NewInMemoryRepository()
		return &LeadStore{Repository: repo, Summaries: repo, Close: func() {}}, nil
	}
}

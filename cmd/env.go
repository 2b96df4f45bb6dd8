package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/analysis"
	"github.com/osintube/threatscan/internal/cache"
	"github.com/osintube/threatscan/internal/cascade"
	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/dataset"
	"github.com/osintube/threatscan/internal/features"
	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/llm"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/scorer"
	"github.com/osintube/threatscan/internal/store"
)

// storeEnv holds the persistence layer shared by every command.
type storeEnv struct {
	AWS      aws.Config
	Blobs    store.BlobStore
	Meta     store.MetadataStore
	Cache    *cache.Cache
	Datasets *dataset.Loader
	History  *history.Recorder // nil when the request log is disabled
}

// Close releases the metadata store connection.
func (se *storeEnv) Close() {
	if se.Meta != nil {
		if err := se.Meta.Close(); err != nil {
			zap.L().Warn("close metadata store", zap.Error(err))
		}
	}
}

// appEnv adds the scoring pipeline and model client on top of storeEnv.
type appEnv struct {
	*storeEnv
	LLM     *llm.Guard
	Service *analysis.Service
}

// initStores builds the blob and metadata stores and the cache over them.
// Callers should defer env.Close().
func initStores(ctx context.Context) (*storeEnv, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	blobs, err := newBlobStore(cfg.Blob, cfg.AWS, awsCfg)
	if err != nil {
		return nil, err
	}
	meta, err := newMetadataStore(ctx, cfg.Metadata, cfg.AWS, awsCfg)
	if err != nil {
		return nil, err
	}

	readRetry := resilience.StoreReadConfig(cfg.Store)
	env := &storeEnv{
		AWS:   awsCfg,
		Blobs: blobs,
		Meta:  meta,
		Cache: cache.New(blobs, meta, cache.Options{
			Table:        cfg.Metadata.AnalysisTable,
			Prefix:       cfg.Blob.Prefix,
			ReadTimeout:  time.Duration(cfg.Store.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Store.WriteTimeoutSecs) * time.Second,
			ReadRetry:    readRetry,
		}),
		Datasets: dataset.NewLoader(blobs, readRetry),
	}
	if cfg.Metadata.RequestTable != "" {
		env.History = history.NewRecorder(meta, cfg.Metadata.RequestTable)
	}
	return env, nil
}

// initApp validates config for mode and builds everything the analyze, ask,
// batch and serve commands need.
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}

	table := features.DefaultPatterns()
	if cfg.Scoring.PatternsFile != "" {
		t, err := features.LoadPatterns(cfg.Scoring.PatternsFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	extractor, err := features.NewExtractor(table)
	if err != nil {
		return nil, err
	}

	se, err := initStores(ctx)
	if err != nil {
		return nil, err
	}

	guard, err := llm.FromConfig(ctx, cfg, se.AWS)
	if err != nil {
		se.Close()
		return nil, err
	}

	sc := scorer.New(cfg.Scoring, extractor)
	opts := analysis.Options{
		Analysis: cfg.Analysis,
		QA:       cfg.QA,
		ModelID:  guard.DefaultModel(),
	}
	if se.History != nil {
		opts.History = se.History
	}

	zap.L().Info("initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", guard.DefaultModel()),
		zap.String("blob_driver", cfg.Blob.Driver),
		zap.String("metadata_driver", cfg.Metadata.Driver),
	)

	return &appEnv{
		storeEnv: se,
		LLM:      guard,
		Service:  analysis.NewService(se.Cache, cascade.New(cfg.Cascade, sc), sc, guard, opts),
	}, nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, eris.Wrap(err, "load aws config")
	}
	return awsCfg, nil
}

func newBlobStore(c config.BlobConfig, ac config.AWSConfig, awsCfg aws.Config) (store.BlobStore, error) {
	switch c.Driver {
	case "s3":
		if c.Bucket == "" {
			return nil, eris.New("blob.bucket is required for the s3 driver")
		}
		return store.NewS3BlobStore(store.NewS3Client(awsCfg, ac.Endpoint, c.PathStyle), c.Bucket), nil
	case "local":
		return store.NewLocalBlobStore(c.LocalPath)
	case "memory":
		return store.NewMemoryBlobStore(), nil
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", c.Driver)
	}
}

func newMetadataStore(ctx context.Context, c config.MetadataConfig, ac config.AWSConfig, awsCfg aws.Config) (store.MetadataStore, error) {
	switch c.Driver {
	case "dynamodb":
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if ac.Endpoint != "" {
				o.BaseEndpoint = aws.String(ac.Endpoint)
			}
		})
		return store.NewDynamoMetadataStore(client, c.KeyAttribute), nil
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "threatscan.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, s)
	case "mysql":
		s, err := store.NewMySQL(c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, s)
	case "postgres":
		s, err := store.NewPostgres(ctx, c.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, s)
	case "redis":
		return store.NewRedis(ctx, c.DatabaseURL)
	case "memory":
		return store.NewMemoryMetadataStore(), nil
	default:
		return nil, eris.Errorf("unsupported metadata driver: %s", c.Driver)
	}
}

type migrator interface {
	store.MetadataStore
	Migrate(ctx context.Context) error
}

func migrated(ctx context.Context, s migrator) (store.MetadataStore, error) {
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, eris.Wrap(err, "migrate metadata store")
	}
	return s, nil
}

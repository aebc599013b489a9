// Package boot provides shared process-startup logic.
//
// Both binaries need some subset of: AWS config, S3, DynamoDB, SSM parameter
// fetch, the local cache, and startup logging. This package extracts the
// common init patterns so each main is a short composition of helpers.
package boot

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/logging"
	"github.com/verdantiq/facility-assessment/internal/store"
	"github.com/verdantiq/facility-assessment/internal/wizard"
)

// AWSClients holds the core AWS SDK clients shared across binaries.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates the S3 client used by the document upload adapter.
func InitS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// InitDynamo creates the DynamoDB form store from the given config and table
// name environment variable. Fatals if the env var is empty.
func InitDynamo(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	return store.NewDynamoStore(ddbClient, tableName)
}

// InitStoreOptional creates the DynamoDB form store if the table env var is
// set, falling back to an in-memory store (with a warning) when it is not.
// The fallback keeps local development working without any AWS setup.
func InitStoreOptional(cfg aws.Config, tableEnvVar string) store.FormStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Warn().Str("envVar", tableEnvVar).Msg("DynamoDB table not set, using in-memory store")
		return store.NewMemoryStore()
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	return store.NewDynamoStore(ddbClient, tableName)
}

// OpenCache opens the local sqlite cache at the path named by pathEnvVar,
// defaulting to ~/.facility-assessment/cache.db. An unopenable cache file
// degrades to an in-memory cache: resume across restarts is lost but the
// wizard keeps working.
func OpenCache(pathEnvVar string) cache.KV {
	path := os.Getenv(pathEnvVar)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn().Err(err).Msg("No home directory, using in-memory cache")
			return cache.NewMemoryKV()
		}
		path = filepath.Join(home, ".facility-assessment", "cache.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot create cache directory, using in-memory cache")
		return cache.NewMemoryKV()
	}
	kv, err := cache.OpenSQLite(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot open cache database, using in-memory cache")
		return cache.NewMemoryKV()
	}
	log.Debug().Str("path", path).Msg("Local cache opened")
	return kv
}

// LoadBuckets resolves the three document buckets from environment
// variables, falling back to SSM Parameter Store for any that are unset.
// Missing buckets disable the corresponding upload, they are not fatal.
func LoadBuckets(ssmClient *ssm.Client) wizard.Buckets {
	return wizard.Buckets{
		FacilityDocs:  bucketFromEnvOrSSM(ssmClient, "ASSESSMENT_FACILITY_BUCKET", "/facility-assessment/prod/facility-docs-bucket"),
		FinancialDocs: bucketFromEnvOrSSM(ssmClient, "ASSESSMENT_FINANCIAL_BUCKET", "/facility-assessment/prod/financial-docs-bucket"),
		Reports:       bucketFromEnvOrSSM(ssmClient, "ASSESSMENT_REPORT_BUCKET", "/facility-assessment/prod/report-bucket"),
	}
}

func bucketFromEnvOrSSM(ssmClient *ssm.Client, envVar, param string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if ssmClient == nil {
		return ""
	}
	start := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name: &param,
	})
	if err != nil {
		log.Warn().Err(err).Str("param", param).Str("envVar", envVar).Msg("Bucket not configured, uploads for it disabled")
		return ""
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Bucket name loaded from SSM")
	return *result.Parameter.Value
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}

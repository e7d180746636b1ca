// Package metadata keeps snapshot records in a DynamoDB table.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/snapshot"
)

// SearchAll matches every record.
const SearchAll = "*"

// tableWait bounds how long CreateTable waits for the table to become ACTIVE.
const tableWait = 5 * time.Minute

// MetaStore is the repository's record of pushed snapshots.
type MetaStore interface {
	CreateTable(ctx context.Context) error
	Put(ctx context.Context, meta *snapshot.Meta) error
	Get(ctx context.Context, id string) (*snapshot.Meta, error)
	Search(ctx context.Context, query string) ([]snapshot.Meta, error)
	Delete(ctx context.Context, id string) error
}

// DynamoAPI is the part of the DynamoDB client the store uses.
type DynamoAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var (
	_ DynamoAPI = (*dynamodb.Client)(nil)
	_ MetaStore = (*DynamoStore)(nil)
)

// DynamoStore implements MetaStore on one table.
type DynamoStore struct {
	client DynamoAPI
	table  string

	// waitDelay overrides the waiter's minimum poll delay.
	waitDelay time.Duration
}

// New builds a DynamoDB client with the repository's static credentials.
// Repositories with a metadata endpoint send DynamoDB calls there.
func New(ctx context.Context, rc config.RepositoryConfig) (*DynamoStore, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	region := rc.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(awscredentials.NewStaticCredentialsProvider(
			rc.AccessKeyID,
			rc.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if u := rc.MetadataURL(); u != "" {
			o.BaseEndpoint = aws.String(u)
		}
	})
	return NewWithClient(client, rc.TableName()), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// CreateTable creates the table with on-demand billing and waits until it is ACTIVE.
func (s *DynamoStore) CreateTable(ctx context.Context) error {
	logger.Log.Debug().Str("table", s.table).Msg("creating table")
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		if apiErrorCode(err) == "ResourceInUseException" {
			return fmt.Errorf("table %s: %w", s.table, config.ErrRepositoryExists)
		}
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client, func(o *dynamodb.TableExistsWaiterOptions) {
		if s.waitDelay > 0 {
			o.MinDelay = s.waitDelay
			o.MaxDelay = s.waitDelay
		}
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, tableWait); err != nil {
		return fmt.Errorf("table %s did not become active: %w", s.table, err)
	}
	return nil
}

// Put writes the record, replacing any record with the same id.
func (s *DynamoStore) Put(ctx context.Context, meta *snapshot.Meta) error {
	item, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}
	logger.Log.Debug().Str("table", s.table).Str("id", meta.ID).Msg("putting snapshot record")
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to write snapshot record: %w", s.wrap(err))
	}
	return nil
}

// Get returns the record for id or an error wrapping snapshot.ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, id string) (*snapshot.Meta, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot record: %w", s.wrap(err))
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}

	var meta snapshot.Meta
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot record: %w", err)
	}
	return &meta, nil
}

// Search scans the table. "*" returns everything; any other query matches
// records whose project contains it or whose id equals it. Results are
// newest first.
func (s *DynamoStore) Search(ctx context.Context, query string) ([]snapshot.Meta, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	if query != SearchAll {
		filter := expression.Name("project").Contains(query).
			Or(expression.Name("id").Equal(expression.Value(query)))
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build search expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var results []snapshot.Meta
	pages := dynamodb.NewScanPaginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to search snapshots: %w", s.wrap(err))
		}
		var batch []snapshot.Meta
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot records: %w", err)
		}
		results = append(results, batch...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Created > results[j].Created
	})
	logger.Log.Debug().Str("query", query).Int("results", len(results)).Msg("searched snapshots")
	return results, nil
}

// Delete removes the record for id.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(id),
	}); err != nil {
		return fmt.Errorf("failed to delete snapshot record: %w", s.wrap(err))
	}
	return nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

// wrap points at create-repository when the table is missing.
func (s *DynamoStore) wrap(err error) error {
	if apiErrorCode(err) == "ResourceNotFoundException" {
		return fmt.Errorf("table %s does not exist (run 'wpsnapshots create-repository'): %w", s.table, err)
	}
	return err
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

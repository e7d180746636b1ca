package metadata

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/snapshot"
)

// fakeDynamo keeps items by id and pages scans two items at a time.
type fakeDynamo struct {
	items     map[string]map[string]types.AttributeValue
	createErr error
	created   *dynamodb.CreateTableInput
	describes int
	scans     []*dynamodb.ScanInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemID(item map[string]types.AttributeValue) string {
	if s, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = in
	return &dynamodb.CreateTableOutput{}, f.createErr
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.describes++
	status := types.TableStatusCreating
	if f.describes > 1 {
		status = types.TableStatusActive
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName, TableStatus: status}}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemID(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemID(in.Key)]}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, in)

	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		start = sort.SearchStrings(ids, itemID(in.ExclusiveStartKey)) + 1
	}
	end := min(start+2, len(ids))

	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, f.items[id])
	}
	if end < len(ids) {
		out.LastEvaluatedKey = key(ids[end-1])
	}
	return out, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemID(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func testMeta(id, project string, created int64) *snapshot.Meta {
	return &snapshot.Meta{
		ID:         id,
		Project:    project,
		Author:     snapshot.Author{Name: "Jane", Email: "jane@example.com"},
		Repository: "team",
		Sites:      []snapshot.Site{{BlogID: 1, HomeURL: "https://example.com", SiteURL: "https://example.com"}},
		ContainsDB: true,
		Created:    created,
	}
}

func TestCreateTable(t *testing.T) {
	fake := newFakeDynamo()
	store := NewWithClient(fake, "wpsnapshots-team")
	store.waitDelay = time.Millisecond

	require.NoError(t, store.CreateTable(context.Background()))
	assert.Equal(t, "wpsnapshots-team", aws.ToString(fake.created.TableName))
	assert.Equal(t, types.BillingModePayPerRequest, fake.created.BillingMode)
	require.Len(t, fake.created.KeySchema, 1)
	assert.Equal(t, "id", aws.ToString(fake.created.KeySchema[0].AttributeName))
	assert.GreaterOrEqual(t, fake.describes, 2)
}

func TestCreateTableExists(t *testing.T) {
	fake := newFakeDynamo()
	fake.createErr = &smithy.GenericAPIError{Code: "ResourceInUseException"}
	err := NewWithClient(fake, "wpsnapshots-team").CreateTable(context.Background())
	assert.ErrorIs(t, err, config.ErrRepositoryExists)
	assert.Zero(t, fake.describes)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewWithClient(newFakeDynamo(), "wpsnapshots-team")

	meta := testMeta("abc", "client-site", 100)
	require.NoError(t, store.Put(ctx, meta))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewWithClient(fake, "wpsnapshots-team")

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Put(ctx, testMeta("id"+strconv.Itoa(i), "project", int64(i*10))))
	}

	results, err := store.Search(ctx, SearchAll)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "id5", results[0].ID)
	assert.Equal(t, "id1", results[4].ID)
	assert.Len(t, fake.scans, 3)
	assert.Nil(t, fake.scans[0].FilterExpression)

	fake.scans = nil
	_, err = store.Search(ctx, "proj")
	require.NoError(t, err)
	in := fake.scans[0]
	require.NotNil(t, in.FilterExpression)
	assert.Contains(t, aws.ToString(in.FilterExpression), "contains (")
	assert.Contains(t, aws.ToString(in.FilterExpression), " OR ")

	var names []string
	for _, n := range in.ExpressionAttributeNames {
		names = append(names, n)
	}
	assert.ElementsMatch(t, []string{"project", "id"}, names)

	var values []string
	for _, v := range in.ExpressionAttributeValues {
		var s string
		require.NoError(t, attributevalue.Unmarshal(v, &s))
		values = append(values, s)
	}
	assert.Equal(t, []string{"proj", "proj"}, values)
}

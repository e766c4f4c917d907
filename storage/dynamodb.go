package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/johnwmail/vanish/models"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore implements PasteStore using DynamoDB. The table is keyed by
// the string attribute "id"; enable TTL on the "ttl" attribute to let
// DynamoDB collect expired records.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	opts      Options
}

// NewDynamoStore creates a new DynamoDB storage backend
func NewDynamoStore(ctx context.Context, tableName, region string, opts Options) (*DynamoStore, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, opts), nil
}

// NewDynamoStoreWithClient wraps an existing client
func NewDynamoStoreWithClient(client DynamoAPI, tableName string, opts Options) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, opts: opts}
}

// Put saves a paste to DynamoDB
func (d *DynamoStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.pasteToItem(id, paste),
	})
	return describeAWSError(err)
}

// Get retrieves a paste by its ID
func (d *DynamoStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()
	return d.get(ctx, id)
}

func (d *DynamoStore) get(ctx context.Context, id string) (*models.Paste, error) {
	item, err := d.getItem(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	return itemToPaste(item)
}

func (d *DynamoStore) getItem(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, describeAWSError(err)
	}
	return result.Item, nil
}

const (
	consumeUpdate    = "SET remaining_views = remaining_views - :one"
	consumeCondition = "attribute_exists(id) AND attribute_not_exists(retired) AND remaining_views > :zero AND (attribute_not_exists(expires_at) OR expires_at >= :now)"
	retireUpdate     = "SET retired = :true"
	retireCondition  = "attribute_exists(id) AND expires_at < :now"
)

// Consume spends a view with a conditional UpdateItem. When the condition
// fails, a consistent read tells an unlimited paste apart from a refusal.
// retired is an attribute outside the record fields.
func (d *DynamoStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	key := map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
	nowValue := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 key,
		UpdateExpression:    aws.String(consumeUpdate),
		ConditionExpression: aws.String(consumeCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":now":  nowValue,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err == nil {
		return itemToPaste(out.Attributes)
	}
	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return nil, describeAWSError(err)
	}

	item, err := d.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrUnavailable
	}
	if _, gone := item["retired"]; gone {
		return nil, ErrUnavailable
	}
	paste, err := itemToPaste(item)
	if err != nil {
		return nil, err
	}

	switch judge(paste, now) {
	case serve:
		return paste, nil
	case retire:
		_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(d.tableName),
			Key:                 key,
			UpdateExpression:    aws.String(retireUpdate),
			ConditionExpression: aws.String(retireCondition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true": &types.AttributeValueMemberBOOL{Value: true},
				":now":  nowValue,
			},
		})
		if err != nil && !errors.As(err, &condErr) {
			return nil, describeAWSError(err)
		}
	}
	// The counter only moves down, so a failed condition on a limited paste
	// means it is out of views.
	return nil, ErrUnavailable
}

// Ping checks that the table is reachable
func (d *DynamoStore) Ping(ctx context.Context) error {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return describeAWSError(err)
}

func (d *DynamoStore) Backend() string { return "dynamodb" }

// Close is a no-op for DynamoDB
func (d *DynamoStore) Close() error {
	return nil
}

// pasteToItem converts a paste to a DynamoDB item
func (d *DynamoStore) pasteToItem(id string, paste *models.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: id},
		"content": &types.AttributeValueMemberS{Value: paste.Content},
	}
	if paste.ExpiresAt != nil {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*paste.ExpiresAt, 10)}
	}
	if paste.RemainingViews != nil {
		item["remaining_views"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*paste.RemainingViews, 10)}
	}
	// DynamoDB TTL wants epoch seconds
	if at, ok := d.opts.purgeAt(paste); ok {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Unix(), 10)}
	}
	return item
}

// itemToPaste converts a DynamoDB item to a Paste model
func itemToPaste(item map[string]types.AttributeValue) (*models.Paste, error) {
	paste := &models.Paste{}

	if content, ok := item["content"].(*types.AttributeValueMemberS); ok {
		paste.Content = content.Value
	}

	if expiresAt, ok := item["expires_at"].(*types.AttributeValueMemberN); ok {
		v, err := strconv.ParseInt(expiresAt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		paste.ExpiresAt = &v
	}

	if views, ok := item["remaining_views"].(*types.AttributeValueMemberN); ok {
		v, err := strconv.ParseInt(views.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse remaining_views: %w", err)
		}
		paste.RemainingViews = &v
	}

	return paste, nil
}

// describeAWSError adds the service error code to the message
func describeAWSError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("dynamodb %s: %w", apiErr.ErrorCode(), err)
	}
	return err
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vibin_video/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

func hashKeyTable(name, hashKey string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
		},
	}
}

// TableDefinitions returns the create input for every table the DynamoStore uses.
func TableDefinitions(tables TableNames) []*dynamodb.CreateTableInput {
	queue := hashKeyTable(tables.Queue, "participantId")
	queue.AttributeDefinitions = append(queue.AttributeDefinitions,
		types.AttributeDefinition{AttributeName: aws.String("poolId"), AttributeType: types.ScalarAttributeTypeS},
		types.AttributeDefinition{AttributeName: aws.String("enqueuedAt"), AttributeType: types.ScalarAttributeTypeN},
	)
	queue.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{{
		IndexName: aws.String(models.QueueByPoolIndex),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("poolId"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("enqueuedAt"), KeyType: types.KeyTypeRange},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}}

	signals := &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.Signals),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("inbox"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("signalId"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("inbox"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("signalId"), KeyType: types.KeyTypeRange},
		},
	}

	return []*dynamodb.CreateTableInput{
		hashKeyTable(tables.Pools, "poolId"),
		hashKeyTable(tables.PoolKeys, "key"),
		queue,
		hashKeyTable(tables.Sessions, "sessionId"),
		hashKeyTable(tables.ActiveSessions, "participantId"),
		signals,
	}
}

// CreateTables creates missing tables, waits for them and enables TTL on signals.
func (ds *DynamoService) CreateTables(ctx context.Context, tables TableNames, logger *zap.Logger) error {
	waiter := dynamodb.NewTableExistsWaiter(ds.Client)
	for _, input := range TableDefinitions(tables) {
		name := aws.ToString(input.TableName)
		_, err := ds.Client.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			logger.Info("table already exists", zap.String("table", name))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create table '%s': %w", name, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
			return fmt.Errorf("table '%s' did not become active: %w", name, err)
		}
		logger.Info("✅ table created", zap.String("table", name))
	}

	_, err := ds.Client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(tables.Signals),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("expiresAt"),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil && !isTTLAlreadyEnabled(err) {
		return fmt.Errorf("failed to enable TTL on '%s': %w", tables.Signals, err)
	}
	return nil
}

func isTTLAlreadyEnabled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" && strings.Contains(apiErr.ErrorMessage(), "already enabled")
}

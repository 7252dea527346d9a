package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ripplefund/payflow/internal/awsx"
)

// Profile is the row stored in the profiles table.
type Profile struct {
	ID          string    `dynamodbav:"id"` // PK, auth user id
	XRPLAddress string    `dynamodbav:"xrpl_address"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

// DynamoProfileStore upserts profiles keyed by user id. An unconditional
// PutItem gives the required upsert semantics: the PK is the user id, so a
// repeat write replaces rather than duplicates.
type DynamoProfileStore struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoProfileStore(client awsx.DynamoDBAPI, tableName string) *DynamoProfileStore {
	return &DynamoProfileStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoProfileStore) Upsert(ctx context.Context, userID, walletAddress string) error {
	item, err := attributevalue.MarshalMap(Profile{
		ID:          userID,
		XRPLAddress: walletAddress,
		UpdatedAt:   s.nowFunc(),
	})
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

// Get fetches a profile by user id. Returns (nil, nil) when not found.
func (s *DynamoProfileStore) Get(ctx context.Context, userID string) (*Profile, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Profile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

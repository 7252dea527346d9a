package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/ripplefund/payflow/internal/awsx"
)

// ErrAlreadyRecorded indicates the finalize transaction found the
// contribution already in RECORDED state.
var ErrAlreadyRecorded = errors.New("contribution already recorded")

// Store encapsulates contribution and loan bookkeeping against DynamoDB.
type Store struct {
	client             awsx.DynamoDBAPI
	contributionsTable string
	loansTable         string
	nowFunc            func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, contributionsTable, loansTable string) *Store {
	return &Store{
		client:             client,
		contributionsTable: contributionsTable,
		loansTable:         loansTable,
		nowFunc:            time.Now,
	}
}

// CreateIfNotExists writes a PENDING contribution row keyed by the signed
// transaction hash. Returns (created=false, nil) when the row already exists.
func (s *Store) CreateIfNotExists(ctx context.Context, p ContributionParams) (bool, error) {
	now := s.nowFunc()
	row := Contribution{
		TxID:          p.SignedReference,
		LoanID:        p.LoanID,
		FunderID:      p.FunderID,
		Amount:        p.Amount,
		Status:        StatusPending,
		ContributedAt: now,
		UpdatedAt:     now,
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return false, fmt.Errorf("marshal contribution: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.contributionsTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(tx_id)"),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put contribution: %w", err)
	}
	return true, nil
}

// Get fetches a contribution by transaction hash. Returns (nil, nil) when
// not found.
func (s *Store) Get(ctx context.Context, txID string) (*Contribution, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.contributionsTable,
		Key: map[string]types.AttributeValue{
			"tx_id": &types.AttributeValueMemberS{Value: txID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Contribution
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal contribution: %w", err)
	}
	return &c, nil
}

// Finalize atomically adds the amount to the loan's funded total and flips
// the contribution from PENDING to RECORDED. The conditional status flip
// makes replays safe: a second finalize for the same hash cancels instead of
// double-counting, surfaced as ErrAlreadyRecorded.
func (s *Store) Finalize(ctx context.Context, p ContributionParams) error {
	now := s.nowFunc().Format(time.RFC3339)
	amount := fmt.Sprintf("%v", p.Amount)

	items := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName: &s.loansTable,
				Key: map[string]types.AttributeValue{
					"id": &types.AttributeValueMemberS{Value: p.LoanID},
				},
				UpdateExpression: awsString("SET funded_amount = if_not_exists(funded_amount, :zero) + :amt, updated_at = :ua"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":zero": &types.AttributeValueMemberN{Value: "0"},
					":amt":  &types.AttributeValueMemberN{Value: amount},
					":ua":   &types.AttributeValueMemberS{Value: now},
				},
			},
		},
		{
			Update: &types.Update{
				TableName: &s.contributionsTable,
				Key: map[string]types.AttributeValue{
					"tx_id": &types.AttributeValueMemberS{Value: p.SignedReference},
				},
				UpdateExpression:    awsString("SET #s = :recorded, updated_at = :ua"),
				ConditionExpression: awsString("#s = :pending"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":recorded": &types.AttributeValueMemberS{Value: StatusRecorded},
					":pending":  &types.AttributeValueMemberS{Value: StatusPending},
					":ua":       &types.AttributeValueMemberS{Value: now},
				},
			},
		},
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && statusConditionFailed(tce) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("finalize contribution: %w", err)
	}
	return nil
}

// statusConditionFailed reports whether the transaction was cancelled by the
// PENDING condition on the contribution item (the second transact item). A
// cancellation for any other reason, like a conflict or throttling, means
// the bookkeeping genuinely did not happen and must not read as recorded.
func statusConditionFailed(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) != 2 {
		return false
	}
	code := tce.CancellationReasons[1].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func awsString(s string) *string { return &s }

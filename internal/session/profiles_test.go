package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a minimal in-memory table keyed by the "id" attribute.
type mockDynamo struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keyAttr, ok := params.Item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing id")
	}
	m.table[keyAttr.Value] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keyAttr, ok := params.Key["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing id")
	}
	item, ok := m.table[keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported")
}

func TestDynamoProfileStore_UpsertReplaces(t *testing.T) {
	mock := newMockDynamo()
	s := NewDynamoProfileStore(mock, "profiles")
	ctx := context.Background()

	if err := s.Upsert(ctx, "user-1", "rOLD"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, "user-1", "rNEW"); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if len(mock.table) != 1 {
		t.Fatalf("re-upsert must not duplicate, have %d rows", len(mock.table))
	}
	p, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p == nil || p.XRPLAddress != "rNEW" {
		t.Fatalf("expected replaced address, got %+v", p)
	}
}

func TestDynamoProfileStore_GetMissing(t *testing.T) {
	s := NewDynamoProfileStore(newMockDynamo(), "profiles")
	p, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for missing profile, got %+v", p)
	}
}

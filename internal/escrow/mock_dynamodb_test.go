package escrow

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a minimal in-memory DynamoDB covering the calls the escrow
// store makes: conditional PutItem on tx_id, GetItem, and the finalize
// transaction. Not production-grade.
type simpleMock struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	putCalls      int
	transactCalls int
	transactErr   error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *simpleMock) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func itemKey(item map[string]types.AttributeValue) (string, error) {
	for _, k := range []string{"tx_id", "id"} {
		if v, ok := item[k].(*types.AttributeValueMemberS); ok {
			return v.Value, nil
		}
	}
	return "", errors.New("no recognizable key attribute")
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	t := m.table(*params.TableName)
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(tx_id)" {
		if _, exists := t[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	t[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*params.TableName)
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if m.transactErr != nil {
		return nil, m.transactErr
	}

	// first pass: check conditions, reporting per-item cancellation reasons
	// the way the real service does
	for i, it := range params.TransactItems {
		u := it.Update
		if u == nil || u.ConditionExpression == nil {
			continue
		}
		t := m.table(*u.TableName)
		k, err := itemKey(u.Key)
		if err != nil {
			return nil, err
		}
		item, ok := t[k]
		if !ok {
			return nil, cancelledAt(i, len(params.TransactItems))
		}
		// only condition used: #s = :pending
		status, _ := item["status"].(*types.AttributeValueMemberS)
		pending, _ := u.ExpressionAttributeValues[":pending"].(*types.AttributeValueMemberS)
		if status == nil || pending == nil || status.Value != pending.Value {
			return nil, cancelledAt(i, len(params.TransactItems))
		}
	}

	// second pass: apply updates
	for _, it := range params.TransactItems {
		u := it.Update
		if u == nil {
			continue
		}
		t := m.table(*u.TableName)
		k, err := itemKey(u.Key)
		if err != nil {
			return nil, err
		}
		item, ok := t[k]
		if !ok {
			item = map[string]types.AttributeValue{}
			for kk, vv := range u.Key {
				item[kk] = vv
			}
			t[k] = item
		}
		if v, ok := u.ExpressionAttributeValues[":amt"]; ok {
			amt, _ := strconv.ParseFloat(v.(*types.AttributeValueMemberN).Value, 64)
			var cur float64
			if existing, ok := item["funded_amount"].(*types.AttributeValueMemberN); ok {
				cur, _ = strconv.ParseFloat(existing.Value, 64)
			}
			item["funded_amount"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(cur+amt, 'f', -1, 64)}
		}
		if v, ok := u.ExpressionAttributeValues[":recorded"]; ok {
			item["status"] = v
		}
		if v, ok := u.ExpressionAttributeValues[":ua"]; ok {
			item["updated_at"] = v
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// cancelledAt builds the exception for a condition failure on item i, with
// "None" reasons for the other items.
func cancelledAt(i, total int) *types.TransactionCanceledException {
	reasons := make([]types.CancellationReason, total)
	for j := range reasons {
		code := "None"
		if j == i {
			code = "ConditionalCheckFailed"
		}
		reasons[j] = types.CancellationReason{Code: &code}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func (m *simpleMock) fundedAmount(table, loanID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(table)[loanID]
	if !ok {
		return 0
	}
	n, ok := item["funded_amount"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(n.Value, 64)
	return f
}

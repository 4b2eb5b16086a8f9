package simulator

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/upiswitch/types"
)

type fakeDynamo struct {
	items   map[string]map[string]ddbtypes.AttributeValue
	updates []*dynamodb.UpdateItemInput
	err     error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]ddbtypes.AttributeValue{}}
}

func pk(key map[string]ddbtypes.AttributeValue) string {
	return key[attrPK].(*ddbtypes.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[pk(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[pk(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem applies the two balance updates the store issues.
func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.err != nil {
		return nil, f.err
	}

	item, ok := f.items[pk(in.Key)]
	if !ok {
		return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	bal := decimal.RequireFromString(item[attrBalance].(*ddbtypes.AttributeValueMemberN).Value)
	amount := decimal.RequireFromString(in.ExpressionAttributeValues[":amount"].(*ddbtypes.AttributeValueMemberN).Value)

	switch aws.ToString(in.UpdateExpression) {
	case "SET balance = balance - :amount":
		if bal.LessThan(amount) {
			return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("low"), Item: item}
		}
		bal = bal.Sub(amount)
	case "SET balance = balance + :amount":
		bal = bal.Add(amount)
	default:
		return nil, errors.New("unexpected update")
	}

	item[attrBalance] = &ddbtypes.AttributeValueMemberN{Value: bal.String()}
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func TestDynamoAccountStore(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s := NewDynamoAccountStore(db, "Accounts")

	require.NoError(t, s.Put(ctx, Account{Addr: "a@x", Name: "Asha", Bank: "SBI", Balance: types.MustMoney("100.00")}))

	acc, err := s.Get(ctx, "a@x")
	require.NoError(t, err)
	assert.Equal(t, "Asha", acc.Name)
	assert.Equal(t, "SBI", acc.Bank)
	assert.Equal(t, "100.00", acc.Balance.String())

	bal, err := s.Withdraw(ctx, "a@x", decimal.RequireFromString("40.25"))
	require.NoError(t, err)
	assert.Equal(t, "59.75", bal.String())

	bal, err = s.Withdraw(ctx, "a@x", decimal.RequireFromString("60"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "59.75", bal.String())

	bal, err = s.Deposit(ctx, "a@x", decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	assert.Equal(t, "60.00", bal.String())

	last := db.updates[len(db.updates)-1]
	assert.Equal(t, "Accounts", aws.ToString(last.TableName))
	assert.Equal(t, "attribute_exists(PK)", aws.ToString(last.ConditionExpression))
	assert.Equal(t, accountSortKey, last.Key[attrSK].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, ddbtypes.ReturnValuesOnConditionCheckFailureAllOld, db.updates[0].ReturnValuesOnConditionCheckFailure)
}

func TestDynamoAccountStoreMissingAccount(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoAccountStore(newFakeDynamo(), "Accounts")

	_, err := s.Get(ctx, "nobody@x")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = s.Withdraw(ctx, "nobody@x", decimal.RequireFromString("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = s.Deposit(ctx, "nobody@x", decimal.RequireFromString("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDynamoAccountStoreBacksBank(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	store := NewDynamoAccountStore(db, "Accounts")
	require.NoError(t, DefaultSeed().SeedAccounts(ctx, store, RemitterBankCode))

	bank := NewRemitterBank(store)
	resp, err := bank.Debit(ctx, &types.PayRequest{
		Head:   types.NewHead("NPCI", "pay-1", "", ""),
		Txn:    types.Txn{ID: "t-1", Type: types.TxnDebit},
		Payer:  types.Party{Addr: "abhishek@paytm", Amount: &types.Amount{Value: types.MustMoney("500.00"), Curr: "INR"}},
		Payees: types.Payees{Payee: []types.Party{{Addr: "aman@phonepe"}}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "9500.00", resp.Resp.Refs[0].BalAmt.String())

	db.err = errors.New("throttled")
	_, err = bank.Debit(ctx, legRequest("pay-2", types.TxnDebit, "1.00"))
	assert.Equal(t, types.CategoryUpstream, types.CategoryOf(err))
}

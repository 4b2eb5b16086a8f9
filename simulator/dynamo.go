package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/vitwit/upiswitch/types"
)

const (
	attrPK      = "PK"
	attrSK      = "SK"
	attrName    = "name"
	attrBank    = "bank"
	attrBalance = "balance"

	accountSortKey = "Account"

	tableWaitTimeout = 2 * time.Minute
)

// DynamoAPI is the subset of the DynamoDB client the account store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoConfig locates the accounts table. Endpoint and static credentials
// are only needed for DynamoDB Local.
type DynamoConfig struct {
	Table           string `mapstructure:"table" yaml:"table"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// NewDynamoClient builds a DynamoDB client from the default AWS config chain.
func NewDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// CreateAccountTable creates the accounts table if it does not exist yet and
// waits until it is active.
func CreateAccountTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: ddbtypes.KeyTypeRange},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	var inUse *ddbtypes.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, tableWaitTimeout)
}

// DynamoAccountStore keeps balances in a DynamoDB table keyed by address.
// Balance changes are single conditional updates, so concurrent debits of
// one account never overdraw it.
type DynamoAccountStore struct {
	client DynamoAPI
	table  string
}

var _ AccountStore = (*DynamoAccountStore)(nil)

func NewDynamoAccountStore(client DynamoAPI, table string) *DynamoAccountStore {
	return &DynamoAccountStore{client: client, table: table}
}

func (s *DynamoAccountStore) key(addr string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		attrPK: &ddbtypes.AttributeValueMemberS{Value: addr},
		attrSK: &ddbtypes.AttributeValueMemberS{Value: accountSortKey},
	}
}

func (s *DynamoAccountStore) Get(ctx context.Context, addr string) (Account, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(addr),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", addr, err)
	}
	if len(out.Item) == 0 {
		return Account{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	return accountFromItem(addr, out.Item)
}

func (s *DynamoAccountStore) Put(ctx context.Context, acc Account) error {
	item := s.key(acc.Addr)
	item[attrName] = &ddbtypes.AttributeValueMemberS{Value: acc.Name}
	item[attrBank] = &ddbtypes.AttributeValueMemberS{Value: acc.Bank}
	item[attrBalance] = &ddbtypes.AttributeValueMemberN{Value: acc.Balance.Decimal.String()}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put account %s: %w", acc.Addr, err)
	}
	return nil
}

func (s *DynamoAccountStore) Withdraw(ctx context.Context, addr string, amount decimal.Decimal) (types.Money, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(addr),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":amount": &ddbtypes.AttributeValueMemberN{Value: amount.String()},
		},
		ConditionExpression:                 aws.String("attribute_exists(PK) AND balance >= :amount"),
		UpdateExpression:                    aws.String("SET balance = balance - :amount"),
		ReturnValues:                        ddbtypes.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: ddbtypes.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if len(condErr.Item) == 0 {
				return types.Money{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
			}
			bal, _ := balanceOf(condErr.Item)
			return bal, fmt.Errorf("%s: %w", addr, ErrInsufficientFunds)
		}
		return types.Money{}, fmt.Errorf("withdraw from %s: %w", addr, err)
	}
	return balanceOf(out.Attributes)
}

func (s *DynamoAccountStore) Deposit(ctx context.Context, addr string, amount decimal.Decimal) (types.Money, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(addr),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":amount": &ddbtypes.AttributeValueMemberN{Value: amount.String()},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression:    aws.String("SET balance = balance + :amount"),
		ReturnValues:        ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return types.Money{}, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
		}
		return types.Money{}, fmt.Errorf("deposit to %s: %w", addr, err)
	}
	return balanceOf(out.Attributes)
}

func accountFromItem(addr string, item map[string]ddbtypes.AttributeValue) (Account, error) {
	bal, err := balanceOf(item)
	if err != nil {
		return Account{}, err
	}
	acc := Account{Addr: addr, Balance: bal}
	if v, ok := item[attrName].(*ddbtypes.AttributeValueMemberS); ok {
		acc.Name = v.Value
	}
	if v, ok := item[attrBank].(*ddbtypes.AttributeValueMemberS); ok {
		acc.Bank = v.Value
	}
	return acc, nil
}

func balanceOf(item map[string]ddbtypes.AttributeValue) (types.Money, error) {
	v, ok := item[attrBalance].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return types.Money{}, fmt.Errorf("item has no numeric %s", attrBalance)
	}
	return types.NewMoney(v.Value)
}

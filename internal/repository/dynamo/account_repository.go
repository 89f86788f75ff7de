// Package dynamo implements the credential store on DynamoDB. Accounts are
// keyed by username so the conditional write is the uniqueness arbiter. Each
// account has a pointer item keyed by its id, written in the same
// transaction, so lookups from session claims are strongly consistent.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

// idKeyPrefix cannot collide with a username: usernames never contain '#'.
const idKeyPrefix = "#id:"

// API is the subset of the DynamoDB client used by AccountRepository.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type accountItem struct {
	ID           string    `dynamodbav:"id"`
	Username     string    `dynamodbav:"username"`
	PasswordHash string    `dynamodbav:"password_hash"`
	TOTPSecret   string    `dynamodbav:"totp_secret"`
	TOTPEnabled  bool      `dynamodbav:"totp_enabled"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at"`
}

type AccountRepository struct {
	client API
	table  string
}

func NewAccountRepository(client API, table string) *AccountRepository {
	return &AccountRepository{client: client, table: table}
}

// Init creates the table when it does not exist yet.
func (r *AccountRepository) Init(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", r.table, err)
	}

	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(r.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("username"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("username"), KeyType: types.KeyTypeHash},
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(r.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", r.table, err)
	}
	return nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toItem(account))
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	pointer := map[string]types.AttributeValue{
		"username":         &types.AttributeValueMemberS{Value: idKeyPrefix + account.ID},
		"account_username": &types.AttributeValueMemberS{Value: account.Username},
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(username)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.table),
				Item:                pointer,
				ConditionExpression: aws.String("attribute_not_exists(username)"),
			}},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("insert account %q: %w", account.Username, repository.ErrConflict)
		}
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            usernameKey(username),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, repository.ErrNotFound
	}
	account, err := fromAttributes(out.Item)
	if err != nil {
		return nil, err
	}
	// id pointer items share the key space
	if account.ID == "" {
		return nil, repository.ErrNotFound
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            usernameKey(idKeyPrefix + id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get account pointer: %w", err)
	}
	username, ok := out.Item["account_username"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, repository.ErrNotFound
	}

	account, err := r.GetByUsername(ctx, username.Value)
	if err != nil {
		return nil, err
	}
	if account.ID != id {
		return nil, repository.ErrNotFound
	}
	return account, nil
}

func (r *AccountRepository) SetTOTPEnabled(ctx context.Context, id string, enabled bool) error {
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 usernameKey(account.Username),
		UpdateExpression:    aws.String("SET totp_enabled = :enabled, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(username) AND #id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":enabled": &types.AttributeValueMemberBOOL{Value: enabled},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
			":id":      &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("update totp flag: %w", err)
	}
	return nil
}

// isConditionFailure reports whether a write was rejected by its condition,
// either directly or as the reason a transaction was cancelled.
func isConditionFailure(err error) bool {
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return true
	}
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for _, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func usernameKey(username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"username": &types.AttributeValueMemberS{Value: username},
	}
}

func toItem(a *domain.Account) accountItem {
	return accountItem{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		TOTPSecret:   a.TOTPSecret,
		TOTPEnabled:  a.TOTPEnabled,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromAttributes(av map[string]types.AttributeValue) (*domain.Account, error) {
	var item accountItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &domain.Account{
		ID:           item.ID,
		Username:     item.Username,
		PasswordHash: item.PasswordHash,
		TOTPSecret:   item.TOTPSecret,
		TOTPEnabled:  item.TOTPEnabled,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}, nil
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

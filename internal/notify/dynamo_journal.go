package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// journalItem строка таблицы журнала. PK: id (ulid письма).
type journalItem struct {
	ID        string `dynamodbav:"id"`
	Kind      string `dynamodbav:"kind"`
	RFQID     string `dynamodbav:"rfq_id"`
	To        string `dynamodbav:"to"`
	Subject   string `dynamodbav:"subject"`
	Status    string `dynamodbav:"status"`
	Attempts  int    `dynamodbav:"attempts"`
	Error     string `dynamodbav:"error,omitempty"`
	CreatedAt string `dynamodbav:"created_at"`
}

// DynamoJournal пишет итоги доставки в DynamoDB
type DynamoJournal struct {
	ddb       *dynamodb.Client
	tableName string
}

func NewDynamoJournal(ddb *dynamodb.Client, tableName string) *DynamoJournal {
	return &DynamoJournal{ddb: ddb, tableName: tableName}
}

// ConnectDynamoDB создаёт клиент. endpoint нужен для локального DynamoDB;
// тогда же подставляются статические ключи, если их нет в окружении.
func ConnectDynamoDB(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if useLocalCredentials(endpoint) {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// useLocalCredentials нужны ли фиктивные ключи: только для локального
// endpoint и только когда AWS_ACCESS_KEY_ID не задан
func useLocalCredentials(endpoint string) bool {
	return endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == ""
}

func (j *DynamoJournal) Record(ctx context.Context, o Outcome) error {
	av, err := attributevalue.MarshalMap(toJournalItem(o))
	if err != nil {
		return fmt.Errorf("marshal journal item: %w", err)
	}
	_, err = j.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(j.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put journal item: %w", err)
	}
	return nil
}

func toJournalItem(o Outcome) journalItem {
	it := journalItem{
		ID:        o.Message.ID,
		Kind:      o.Message.Kind,
		RFQID:     o.Message.RFQID,
		To:        o.Message.To,
		Subject:   o.Message.Subject,
		Status:    o.Status,
		Attempts:  o.Attempts,
		CreatedAt: o.At.UTC().Format(time.RFC3339Nano),
	}
	if o.Err != nil {
		it.Error = o.Err.Error()
	}
	return it
}

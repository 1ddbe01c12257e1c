package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const condAbsentExpr = "attribute_not_exists(pk) AND attribute_not_exists(sk)"

// DynamoOptions configures the DynamoDB backend. Endpoint and the static
// credential pair are only set when pointing at a local emulator.
type DynamoOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Dynamo implements Store on DynamoDB. Tables use the single-table pk/sk
// string key schema; conditional writes map directly onto condition
// expressions and TransactWriteItems.
type Dynamo struct {
	client *dynamodb.Client
}

// OpenDynamo builds a client from the ambient AWS configuration, overridden
// by the explicit options.
func OpenDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config load failed: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &Dynamo{client: client}, nil
}

func (d *Dynamo) Get(ctx context.Context, table string, key Key) (Item, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            attrKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo get failed: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return decodeAttrs(out.Item), nil
}

func (d *Dynamo) Put(ctx context.Context, table string, key Key, item Item, cond Condition) error {
	body, err := encodeAttrs(key, item)
	if err != nil {
		return err
	}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      body,
	}
	switch cond.Kind {
	case CondAbsent:
		input.ConditionExpression = aws.String(condAbsentExpr)
	case CondEquals:
		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return fmt.Errorf("condition value marshal failed: %w", err)
		}
		input.ConditionExpression = aws.String("#attr = :expected")
		input.ExpressionAttributeNames = map[string]string{"#attr": cond.Attr}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":expected": av}
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("dynamo put failed: %w", err)
	}
	return nil
}

func (d *Dynamo) Query(ctx context.Context, table string, q Query) (Page, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: q.PartitionKey},
			":prefix": &types.AttributeValueMemberS{Value: q.SortPrefix},
		},
		ScanIndexForward: aws.Bool(!q.Reverse),
		ConsistentRead:   aws.Bool(true),
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}
	if q.Cursor != nil {
		input.ExclusiveStartKey = attrKey(*q.Cursor)
	}

	out, err := d.client.Query(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("dynamo query failed: %w", err)
	}

	page := Page{Items: make([]Item, 0, len(out.Items))}
	for _, raw := range out.Items {
		page.Items = append(page.Items, decodeAttrs(raw))
	}
	if out.LastEvaluatedKey != nil {
		next := Key{}
		if pk, ok := out.LastEvaluatedKey["pk"].(*types.AttributeValueMemberS); ok {
			next.PK = pk.Value
		}
		if sk, ok := out.LastEvaluatedKey["sk"].(*types.AttributeValueMemberS); ok {
			next.SK = sk.Value
		}
		if next.PK != "" && next.SK != "" {
			page.Next = &next
		}
	}
	return page, nil
}

func (d *Dynamo) TransactWrite(ctx context.Context, writes []Write) error {
	items := make([]types.TransactWriteItem, 0, len(writes))
	for _, w := range writes {
		if err := validateWrite(w); err != nil {
			return err
		}
		item, err := transactItem(w)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return mapTransactError(err)
	}
	return nil
}

// mapTransactError resolves a failed TransactWriteItems call. A cancellation
// caused by a failed condition or by a collision with another transaction on
// the same item is a lost race, not an outage: both map to
// ErrPreconditionFailed so callers run their recovery lookup.
func mapTransactError(err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return ErrPreconditionFailed
			}
		}
	}
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return ErrPreconditionFailed
	}
	return fmt.Errorf("dynamo transact write failed: %w", err)
}

func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	return err
}

func (d *Dynamo) Close(context.Context) error { return nil }

// EnsureTable creates a pay-per-request table with the pk/sk key schema if
// it does not already exist, then waits for it to become active.
func (d *Dynamo) EnsureTable(ctx context.Context, name string) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return fmt.Errorf("describe table %s failed: %w", name, err)
	}

	_, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s failed: %w", name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute)
}

func transactItem(w Write) (types.TransactWriteItem, error) {
	switch w.Kind {
	case WritePut:
		body, err := encodeAttrs(w.Key, w.Item)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{
			TableName: aws.String(w.Table),
			Item:      body,
		}
		if err := applyCondition(w.Cond, &put.ConditionExpression, &put.ExpressionAttributeNames, &put.ExpressionAttributeValues); err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: put}, nil

	case WriteUpdate:
		update := &types.Update{
			TableName: aws.String(w.Table),
			Key:       attrKey(w.Key),
		}
		expr := "SET "
		names := map[string]string{}
		values := map[string]types.AttributeValue{}
		i := 0
		for name, v := range w.Set {
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return types.TransactWriteItem{}, fmt.Errorf("update value marshal failed: %w", err)
			}
			if i > 0 {
				expr += ", "
			}
			n := fmt.Sprintf("#u%d", i)
			p := fmt.Sprintf(":u%d", i)
			expr += n + " = " + p
			names[n] = name
			values[p] = av
			i++
		}
		update.UpdateExpression = aws.String(expr)
		update.ExpressionAttributeNames = names
		update.ExpressionAttributeValues = values
		if err := applyCondition(w.Cond, &update.ConditionExpression, &update.ExpressionAttributeNames, &update.ExpressionAttributeValues); err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: update}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unknown write kind %d", w.Kind)
}

func applyCondition(cond Condition, expr **string, names *map[string]string, values *map[string]types.AttributeValue) error {
	switch cond.Kind {
	case CondNone:
		return nil
	case CondAbsent:
		*expr = aws.String(condAbsentExpr)
		return nil
	case CondEquals:
		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return fmt.Errorf("condition value marshal failed: %w", err)
		}
		if *names == nil {
			*names = map[string]string{}
		}
		if *values == nil {
			*values = map[string]types.AttributeValue{}
		}
		*expr = aws.String("#cond = :cond")
		(*names)["#cond"] = cond.Attr
		(*values)[":cond"] = av
		return nil
	}
	return fmt.Errorf("unknown condition kind %d", cond.Kind)
}

func attrKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key.PK},
		"sk": &types.AttributeValueMemberS{Value: key.SK},
	}
}

// encodeAttrs marshals an item plus its key attributes. attributevalue
// handles int64 values as DynamoDB numbers without precision loss.
func encodeAttrs(key Key, item Item) (map[string]types.AttributeValue, error) {
	merged := make(map[string]any, len(item)+2)
	for k, v := range item {
		merged[k] = v
	}
	merged["pk"] = key.PK
	merged["sk"] = key.SK
	out, err := attributevalue.MarshalMap(merged)
	if err != nil {
		return nil, fmt.Errorf("item marshal failed: %w", err)
	}
	return out, nil
}

// decodeAttrs converts raw attribute values back into an Item. Numbers are
// decoded by hand so integer balances survive the round trip: unmarshalling
// into interface{} would coerce every N into float64.
func decodeAttrs(raw map[string]types.AttributeValue) Item {
	out := make(Item, len(raw))
	for name, av := range raw {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			out[name] = v.Value
		case *types.AttributeValueMemberN:
			if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
				out[name] = n
			} else if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
				out[name] = f
			}
		case *types.AttributeValueMemberBOOL:
			out[name] = v.Value
		}
	}
	return out
}

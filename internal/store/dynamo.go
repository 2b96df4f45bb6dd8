package store

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoMetadataStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoMetadataStore implements MetadataStore on DynamoDB tables whose
// partition key is a single string attribute.
type DynamoMetadataStore struct {
	client  DynamoAPI
	keyAttr string
}

// NewDynamoMetadataStore creates a store. keyAttr defaults to "id".
func NewDynamoMetadataStore(client DynamoAPI, keyAttr string) *DynamoMetadataStore {
	if keyAttr == "" {
		keyAttr = "id"
	}
	return &DynamoMetadataStore{client: client, keyAttr: keyAttr}
}

func (s *DynamoMetadataStore) PutItem(ctx context.Context, table, key string, item Item) error {
	row := item.Clone()
	if row == nil {
		row = Item{}
	}
	row[s.keyAttr] = key

	av, err := attributevalue.MarshalMap(map[string]string(row))
	if err != nil {
		return eris.Wrap(err, "dynamodb: marshal item")
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return eris.Wrapf(err, "dynamodb: put item %s/%s", table, key)
	}
	return nil
}

func (s *DynamoMetadataStore) GetItem(ctx context.Context, table, key string) (Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			s.keyAttr: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dynamodb: get item %s/%s", table, key)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return s.itemFromAttributes(out.Item)
}

func (s *DynamoMetadataStore) Scan(ctx context.Context, table string) ([]Record, error) {
	var out []Record
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "dynamodb: scan %s", table)
		}
		for _, raw := range page.Items {
			item, err := s.itemFromAttributes(raw)
			if err != nil {
				return nil, err
			}
			var key string
			if k, ok := raw[s.keyAttr].(*types.AttributeValueMemberS); ok {
				key = k.Value
			}
			out = append(out, Record{Key: key, Item: item})
		}
	}
	return out, nil
}

func (s *DynamoMetadataStore) Close() error { return nil }

// itemFromAttributes flattens a DynamoDB row. Strings and numbers keep their
// literal value; other types are JSON-encoded. The key attribute is dropped.
func (s *DynamoMetadataStore) itemFromAttributes(m map[string]types.AttributeValue) (Item, error) {
	item := make(Item, len(m))
	for name, av := range m {
		if name == s.keyAttr {
			continue
		}
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			item[name] = v.Value
		case *types.AttributeValueMemberN:
			item[name] = v.Value
		default:
			var decoded any
			if err := attributevalue.Unmarshal(av, &decoded); err != nil {
				return nil, eris.Wrapf(err, "dynamodb: decode attribute %s", name)
			}
			raw, err := json.Marshal(decoded)
			if err != nil {
				return nil, eris.Wrapf(err, "dynamodb: encode attribute %s", name)
			}
			item[name] = string(raw)
		}
	}
	return item, nil
}

package leads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoLead struct {
	ID            string `dynamodbav:"id"`
	FormType      string `dynamodbav:"formType"`
	Name          string `dynamodbav:"name"`
	Email         string `dynamodbav:"email,omitempty"`
	Phone         string `dynamodbav:"phone,omitempty"`
	Message       string `dynamodbav:"message,omitempty"`
	BusinessType  string `dynamodbav:"businessType,omitempty"`
	Language      string `dynamodbav:"language"`
	Website       string `dynamodbav:"website,omitempty"`
	PreferredTime string `dynamodbav:"preferredTime,omitempty"`
	IPAddress     string `dynamodbav:"ipAddress,omitempty"`
	UserAgent     string `dynamodbav:"userAgent,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
}

func (d dynamoLead) toLead() (*Lead, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("leads: bad createdAt %q: %w", d.CreatedAt, err)
	}
	return &Lead{
		ID:            d.ID,
		FormType:      FormType(d.FormType),
		Name:          d.Name,
		Email:         d.Email,
		Phone:         d.Phone,
		Message:       d.Message,
		BusinessType:  d.BusinessType,
		Language:      d.Language,
		Website:       d.Website,
		PreferredTime: d.PreferredTime,
		IPAddress:     d.IPAddress,
		UserAgent:     d.UserAgent,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

// DynamoRepository stores leads in a DynamoDB table keyed by id.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var (
	_ Repository    = (*DynamoRepository)(nil)
	_ SummaryReader = (*DynamoRepository)(nil)
)

func NewDynamoRepository(client dynamoAPI, tableName string) *DynamoRepository {
	if client == nil {
		panic("leads: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("leads: table name cannot be empty")
	}
	return &DynamoRepository{client: client, tableName: tableName, now: time.Now}
}

// Create writes the lead with a conditional put so an id collision can
// never overwrite an existing record.
func (r *DynamoRepository) Create(ctx context.Context, in *CreateInput) (*Lead, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	lead := in.lead(uuid.New().String(), r.now().UTC())

	item, err := attributevalue.MarshalMap(dynamoLead{
		ID:            lead.ID,
		FormType:      string(lead.FormType),
		Name:          lead.Name,
		Email:         lead.Email,
		Phone:         lead.Phone,
		Message:       lead.Message,
		BusinessType:  lead.BusinessType,
		Language:      lead.Language,
		Website:       lead.Website,
		PreferredTime: lead.PreferredTime,
		IPAddress:     lead.IPAddress,
		UserAgent:     lead.UserAgent,
		CreatedAt:     lead.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("leads: failed to marshal lead: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, fmt.Errorf("leads: id %s already exists: %w", lead.ID, err)
		}
		return nil, fmt.Errorf("leads: failed to persist lead: %w", err)
	}
	return lead, nil
}

func (r *DynamoRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("leads: failed to load lead: %w", err)
	}
	if out.Item == nil {
		return nil, ErrLeadNotFound
	}
	var rec dynamoLead
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("leads: failed to decode lead: %w", err)
	}
	return rec.toLead()
}

// List scans the table. Analytics volumes are small, so filtering and
// ordering happen client-side.
func (r *DynamoRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = filter.normalized()
	all, err := r.scan(ctx, filter.FormType, filter.Since)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if filter.Offset >= len(all) {
		return []*Lead{}, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *DynamoRepository) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	all, err := r.scan(ctx, "", since)
	if err != nil {
		return nil, err
	}
	summary := newSummary(since)
	for _, lead := range all {
		summary.Total++
		summary.ByForm[string(lead.FormType)]++
		if lead.BusinessType != "" {
			summary.ByBusinessType[lead.BusinessType]++
		}
	}
	return summary, nil
}

func (r *DynamoRepository) scan(ctx context.Context, form FormType, since time.Time) ([]*Lead, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(r.tableName)}
	var (
		conds  []string
		values = map[string]types.AttributeValue{}
	)
	if form != "" {
		conds = append(conds, "formType = :form")
		values[":form"] = &types.AttributeValueMemberS{Value: string(form)}
	}
	if !since.IsZero() {
		conds = append(conds, "createdAt >= :since")
		values[":since"] = &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)}
	}
	if len(conds) > 0 {
		expr := conds[0]
		if len(conds) == 2 {
			expr = conds[0] + " AND " + conds[1]
		}
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeValues = values
	}

	var out []*Lead
	for {
		page, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		var recs []dynamoLead
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("leads: failed to decode scan page: %w", err)
		}
		for _, rec := range recs {
			lead, err := rec.toLead()
			if err != nil {
				return nil, err
			}
			out = append(out, lead)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

// isConditionalCheckFailed reports whether err came from a failed put condition.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EmailIndex is the global secondary index on users.email
const EmailIndex = "email-index"

const removeConnectionAttempts = 3

// DynamoAPI is the subset of the DynamoDB client used by the repositories
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewDynamoClient creates a DynamoDB client for region. A non-empty endpoint
// points the client at DynamoDB Local or another compatible service.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Times are stored as unix nanoseconds so conditional writes compare exactly.
// The zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

type dynamoUser struct {
	ID              string   `dynamodbav:"id"`
	SchemaVersion   int      `dynamodbav:"schema_version"`
	Name            string   `dynamodbav:"name"`
	Email           string   `dynamodbav:"email"`
	Image           string   `dynamodbav:"image"`
	PushToken       *string  `dynamodbav:"push_token,omitempty"`
	Connections     []string `dynamodbav:"connections"`
	PairedWith      []string `dynamodbav:"paired_with"`
	ConnectionToday string   `dynamodbav:"connection_today"`
	LastPaired      int64    `dynamodbav:"last_paired"`
	LastPolled      int64    `dynamodbav:"last_polled"`
	CreatedAt       int64    `dynamodbav:"created_at"`
}

func toDynamoUser(u *models.User) dynamoUser {
	item := dynamoUser{
		ID:              u.ID,
		SchemaVersion:   u.SchemaVersion,
		Name:            u.Name,
		Email:           u.Email,
		Image:           u.Image,
		PushToken:       u.PushToken,
		Connections:     append([]string{}, u.Connections...),
		PairedWith:      append([]string{}, u.PairedWith...),
		ConnectionToday: u.ConnectionToday,
		LastPaired:      toNanos(u.LastPaired),
		LastPolled:      toNanos(u.LastPolled),
		CreatedAt:       toNanos(u.CreatedAt),
	}
	return item
}

func (d dynamoUser) model() *models.User {
	return &models.User{
		ID:              d.ID,
		SchemaVersion:   d.SchemaVersion,
		Name:            d.Name,
		Email:           d.Email,
		Image:           d.Image,
		PushToken:       d.PushToken,
		Connections:     d.Connections,
		PairedWith:      d.PairedWith,
		ConnectionToday: d.ConnectionToday,
		LastPaired:      fromNanos(d.LastPaired),
		LastPolled:      fromNanos(d.LastPolled),
		CreatedAt:       fromNanos(d.CreatedAt),
	}
}

func decodeUser(item map[string]types.AttributeValue) (*models.User, error) {
	var d dynamoUser
	if err := attributevalue.UnmarshalMap(item, &d); err != nil {
		return nil, fmt.Errorf("%w: user: %v", models.ErrInvalidRecord, err)
	}
	user := d.model()
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return user, nil
}

// DynamoUserRepository stores users in a DynamoDB table keyed by id
type DynamoUserRepository struct {
	client DynamoAPI
	table  string
}

// NewDynamoUserRepository creates a new DynamoDB user repository
func NewDynamoUserRepository(client DynamoAPI, table string) *DynamoUserRepository {
	return &DynamoUserRepository{client: client, table: table}
}

// Create creates a new user
func (r *DynamoUserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := r.GetByEmail(ctx, user.Email); err == nil {
		return ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	item, err := attributevalue.MarshalMap(toDynamoUser(user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *DynamoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return decodeUser(out.Item)
}

// GetByEmail retrieves a user by email through the email index
func (r *DynamoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(EmailIndex),
		KeyConditionExpression: aws.String("email = :email"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	return decodeUser(out.Items[0])
}

func (r *DynamoUserRepository) exists(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return nil
}

// AddConnection appends connectionID to the user's connections unless present
func (r *DynamoUserRepository) AddConnection(ctx context.Context, userID, connectionID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(userID),
		UpdateExpression:    aws.String("SET connections = list_append(connections, :ids)"),
		ConditionExpression: aws.String("attribute_exists(id) AND NOT contains(connections, :id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ids": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberS{Value: connectionID},
			}},
			":id": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			// Either the user is missing or the id is already linked.
			return r.exists(ctx, userID)
		}
		return fmt.Errorf("failed to add connection: %w", err)
	}
	return nil
}

// RemoveConnection drops connectionID from the user's connections and clears
// connection_today when it points at the removed connection. Both changes go
// out in one conditional write so the item never holds a connection_today
// missing from connections.
func (r *DynamoUserRepository) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	for attempt := 0; attempt < removeConnectionAttempts; attempt++ {
		user, err := r.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		index := -1
		for i, id := range user.Connections {
			if id == connectionID {
				index = i
				break
			}
		}
		if index < 0 {
			return nil
		}

		path := fmt.Sprintf("connections[%d]", index)
		update := "REMOVE " + path
		condition := path + " = :id AND connection_today <> :id"
		values := map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: connectionID},
		}
		if user.ConnectionToday == connectionID {
			update += " SET connection_today = :empty"
			condition = path + " = :id AND connection_today = :id"
			values[":empty"] = &types.AttributeValueMemberS{Value: ""}
		}

		_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.table),
			Key:                       idKey(userID),
			UpdateExpression:          aws.String(update),
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeValues: values,
		})
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) {
			return fmt.Errorf("failed to remove connection: %w", err)
		}
	}
	return fmt.Errorf("failed to remove connection after %d attempts: %w", removeConnectionAttempts, ErrConflict)
}

// TouchLastPolled records the time of the user's latest poll
func (r *DynamoUserRepository) TouchLastPolled(ctx context.Context, userID string, at time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(userID),
		UpdateExpression:    aws.String("SET last_polled = :t"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberN{Value: fmt.Sprint(toNanos(at))},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update last_polled: %w", err)
	}
	return nil
}

// SetPairing replaces the pairing fields if last_paired still equals expected
// and the new connection_today is still one of the user's connections
func (r *DynamoUserRepository) SetPairing(ctx context.Context, userID string, expected time.Time, state models.PairingState) error {
	pairedWith, err := attributevalue.Marshal(append([]string{}, state.PairedWith...))
	if err != nil {
		return fmt.Errorf("failed to marshal paired_with: %w", err)
	}
	condition := "last_paired = :prev"
	if state.ConnectionToday != "" {
		condition += " AND contains(connections, :ct)"
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(userID),
		UpdateExpression:    aws.String("SET paired_with = :pw, connection_today = :ct, last_paired = :lp"),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pw":   pairedWith,
			":ct":   &types.AttributeValueMemberS{Value: state.ConnectionToday},
			":lp":   &types.AttributeValueMemberN{Value: fmt.Sprint(toNanos(state.LastPaired))},
			":prev": &types.AttributeValueMemberN{Value: fmt.Sprint(toNanos(expected))},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			if err := r.exists(ctx, userID); err != nil {
				return err
			}
			return ErrConflict
		}
		return fmt.Errorf("failed to set pairing: %w", err)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *DynamoUserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(userID),
		ConditionExpression: aws.String("attribute_exists(id)"),
	}
	if pushToken == nil {
		input.UpdateExpression = aws.String("REMOVE push_token")
	} else {
		input.UpdateExpression = aws.String("SET push_token = :t")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: *pushToken},
		}
	}
	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

type dynamoConnection struct {
	ID               string   `dynamodbav:"id"`
	SchemaVersion    int      `dynamodbav:"schema_version"`
	UserIDs          []string `dynamodbav:"user_ids"`
	Created          int64    `dynamodbav:"created"`
	Expiry           int64    `dynamodbav:"expiry"`
	ShouldContinue   []bool   `dynamodbav:"should_continue"`
	HasBegun         bool     `dynamodbav:"has_begun"`
	Latitude         float64  `dynamodbav:"latitude"`
	Longitude        float64  `dynamodbav:"longitude"`
	SemanticLocation string   `dynamodbav:"semantic_location"`
}

func toDynamoConnection(c *models.Connection) dynamoConnection {
	return dynamoConnection{
		ID:               c.ID,
		SchemaVersion:    c.SchemaVersion,
		UserIDs:          []string{c.UserIDs[0], c.UserIDs[1]},
		Created:          toNanos(c.Created),
		Expiry:           toNanos(c.Expiry),
		ShouldContinue:   []bool{c.ShouldContinue[0], c.ShouldContinue[1]},
		HasBegun:         c.HasBegun,
		Latitude:         c.Location.Lat,
		Longitude:        c.Location.Lon,
		SemanticLocation: c.SemanticLocation,
	}
}

func (d dynamoConnection) model() (*models.Connection, error) {
	if len(d.UserIDs) != 2 || len(d.ShouldContinue) != 2 {
		return nil, fmt.Errorf("%w: connection %q: expected two participants", models.ErrInvalidRecord, d.ID)
	}
	c := &models.Connection{
		ID:               d.ID,
		SchemaVersion:    d.SchemaVersion,
		UserIDs:          [2]string{d.UserIDs[0], d.UserIDs[1]},
		Created:          fromNanos(d.Created),
		Expiry:           fromNanos(d.Expiry),
		ShouldContinue:   [2]bool{d.ShouldContinue[0], d.ShouldContinue[1]},
		HasBegun:         d.HasBegun,
		Location:         models.Location{Lat: d.Latitude, Lon: d.Longitude},
		SemanticLocation: d.SemanticLocation,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DynamoConnectionRepository stores connections in a DynamoDB table keyed by id
type DynamoConnectionRepository struct {
	client DynamoAPI
	table  string
}

// NewDynamoConnectionRepository creates a new DynamoDB connection repository
func NewDynamoConnectionRepository(client DynamoAPI, table string) *DynamoConnectionRepository {
	return &DynamoConnectionRepository{client: client, table: table}
}

// Create creates a new connection
func (r *DynamoConnectionRepository) Create(ctx context.Context, c *models.Connection) error {
	item, err := attributevalue.MarshalMap(toDynamoConnection(c))
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by ID
func (r *DynamoConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var d dynamoConnection
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("%w: connection: %v", models.ErrInvalidRecord, err)
	}
	return d.model()
}

// Delete deletes a connection by ID
func (r *DynamoConnectionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// MarkBegun sets has_begun
func (r *DynamoConnectionRepository) MarkBegun(ctx context.Context, id string) error {
	return r.set(ctx, id, "has_begun", &types.AttributeValueMemberBOOL{Value: true})
}

// SetShouldContinue records one participant's wish to keep the connection
func (r *DynamoConnectionRepository) SetShouldContinue(ctx context.Context, id string, side int, value bool) error {
	if side != 0 && side != 1 {
		return fmt.Errorf("invalid participant side %d", side)
	}
	return r.set(ctx, id, fmt.Sprintf("should_continue[%d]", side), &types.AttributeValueMemberBOOL{Value: value})
}

func (r *DynamoConnectionRepository) set(ctx context.Context, id, path string, value types.AttributeValue) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET " + path + " = :v"),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": value},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update connection %s: %w", path, err)
	}
	return nil
}

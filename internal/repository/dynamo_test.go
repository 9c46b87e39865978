package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"click-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDynamo keeps items by id and fails updates with a scripted error
type stubDynamo struct {
	items     map[string]map[string]types.AttributeValue
	updateErr error
	updates   []*dynamodb.UpdateItemInput
	puts      []*dynamodb.PutItemInput
}

func newStubDynamo() *stubDynamo {
	return &stubDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["id"].(*types.AttributeValueMemberS).Value
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
}

func (s *stubDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: s.items[keyOf(in.Key)]}, nil
}

func (s *stubDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.puts = append(s.puts, in)
	id := keyOf(in.Item)
	if _, exists := s.items[id]; exists {
		return nil, conditionFailed()
	}
	s.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (s *stubDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.updates = append(s.updates, in)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (s *stubDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := keyOf(in.Key)
	if _, exists := s.items[id]; !exists {
		return nil, conditionFailed()
	}
	delete(s.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *stubDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	email := in.ExpressionAttributeValues[":email"].(*types.AttributeValueMemberS).Value
	out := &dynamodb.QueryOutput{}
	for _, item := range s.items {
		if v, ok := item["email"].(*types.AttributeValueMemberS); ok && v.Value == email {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func TestNanosRoundTrip(t *testing.T) {
	assert.EqualValues(t, 0, toNanos(time.Time{}))
	assert.True(t, fromNanos(0).IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	assert.True(t, at.Equal(fromNanos(toNanos(at))))
}

func TestDynamoUserCreateAndGet(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	users := NewDynamoUserRepository(stub, "users")

	u := models.NewUser("alice", "alice@example.com", "", t0)
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, models.NewUser("dup", "alice@example.com", "", t0)), ErrConflict)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.True(t, got.LastPaired.IsZero())
	assert.True(t, got.CreatedAt.Equal(t0))

	byEmail, err := users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = users.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoUserInvalidRecord(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	item, err := attributevalue.MarshalMap(dynamoUser{ID: "u1", SchemaVersion: 7, Name: "x", Email: "x@example.com"})
	require.NoError(t, err)
	stub.items["u1"] = item

	_, err = NewDynamoUserRepository(stub, "users").GetByID(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrInvalidRecord)
}

func TestDynamoSetPairingConflict(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	users := NewDynamoUserRepository(stub, "users")
	u := models.NewUser("alice", "alice@example.com", "", t0)
	require.NoError(t, users.Create(ctx, u))

	stub.updateErr = conditionFailed()
	state := models.PairingState{PairedWith: []string{"c1"}, ConnectionToday: "c1", LastPaired: t0}
	assert.ErrorIs(t, users.SetPairing(ctx, u.ID, time.Time{}, state), ErrConflict)
	assert.ErrorIs(t, users.SetPairing(ctx, "missing", time.Time{}, state), ErrNotFound)

	assert.Equal(t, "last_paired = :prev AND contains(connections, :ct)", *stub.updates[0].ConditionExpression)
	prev := stub.updates[0].ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN)
	assert.Equal(t, "0", prev.Value)
	next := stub.updates[0].ExpressionAttributeValues[":lp"].(*types.AttributeValueMemberN)
	assert.Equal(t, strconv.FormatInt(t0.UnixNano(), 10), next.Value)

	// restoring an empty connection_today needs no membership guard
	stub.updates = nil
	stub.updateErr = nil
	require.NoError(t, users.SetPairing(ctx, u.ID, t0, models.PairingState{}))
	assert.Equal(t, "last_paired = :prev", *stub.updates[0].ConditionExpression)
}

func TestDynamoUserConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	users := NewDynamoUserRepository(stub, "users")
	u := models.NewUser("alice", "alice@example.com", "", t0)
	require.NoError(t, users.Create(ctx, u))

	stub.updateErr = conditionFailed()
	// already linked
	assert.NoError(t, users.AddConnection(ctx, u.ID, "c1"))
	assert.ErrorIs(t, users.AddConnection(ctx, "missing", "c1"), ErrNotFound)
	assert.ErrorIs(t, users.TouchLastPolled(ctx, "missing", t0), ErrNotFound)
	assert.ErrorIs(t, users.UpdatePushToken(ctx, "missing", nil), ErrNotFound)

	stub.updateErr = errors.New("throttled")
	assert.ErrorContains(t, users.TouchLastPolled(ctx, u.ID, t0), "throttled")
}

func TestDynamoRemoveConnectionByIndex(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	users := NewDynamoUserRepository(stub, "users")
	u := models.NewUser("alice", "alice@example.com", "", t0)
	u.Connections = []string{"c1", "c2"}
	require.NoError(t, users.Create(ctx, u))

	require.NoError(t, users.RemoveConnection(ctx, u.ID, "c2"))
	require.Len(t, stub.updates, 1)
	assert.Equal(t, "REMOVE connections[1]", *stub.updates[0].UpdateExpression)
	assert.Equal(t, "connections[1] = :id AND connection_today <> :id", *stub.updates[0].ConditionExpression)

	stub.updates = nil
	require.NoError(t, users.RemoveConnection(ctx, u.ID, "gone"))
	assert.Empty(t, stub.updates)

	stub.updateErr = conditionFailed()
	assert.ErrorIs(t, users.RemoveConnection(ctx, u.ID, "c1"), ErrConflict)
	assert.Len(t, stub.updates, removeConnectionAttempts)
}

func TestDynamoRemoveConnectionClearsTodayInOneWrite(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	users := NewDynamoUserRepository(stub, "users")
	u := models.NewUser("alice", "alice@example.com", "", t0)
	u.Connections = []string{"c1", "c2"}
	u.ConnectionToday = "c1"
	require.NoError(t, users.Create(ctx, u))

	require.NoError(t, users.RemoveConnection(ctx, u.ID, "c1"))
	require.Len(t, stub.updates, 1)
	in := stub.updates[0]
	assert.Equal(t, "REMOVE connections[0] SET connection_today = :empty", *in.UpdateExpression)
	assert.Equal(t, "connections[0] = :id AND connection_today = :id", *in.ConditionExpression)
	assert.Equal(t, "", in.ExpressionAttributeValues[":empty"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoConnections(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	conns := NewDynamoConnectionRepository(stub, "connections")

	c := models.NewConnection("a", "b", models.Location{Lat: 1, Lon: 2}, "park", t0, time.Hour)
	require.NoError(t, conns.Create(ctx, c))
	assert.ErrorIs(t, conns.Create(ctx, c), ErrConflict)

	got, err := conns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.UserIDs, got.UserIDs)
	assert.True(t, got.Expiry.Equal(c.Expiry))
	assert.Equal(t, "park", got.SemanticLocation)

	require.NoError(t, conns.SetShouldContinue(ctx, c.ID, 1, true))
	assert.Equal(t, "SET should_continue[1] = :v", *stub.updates[0].UpdateExpression)
	assert.Error(t, conns.SetShouldContinue(ctx, c.ID, 5, true))

	stub.updateErr = conditionFailed()
	assert.ErrorIs(t, conns.MarkBegun(ctx, "missing"), ErrNotFound)

	require.NoError(t, conns.Delete(ctx, c.ID))
	assert.ErrorIs(t, conns.Delete(ctx, c.ID), ErrNotFound)
}

func TestDynamoConnectionMalformed(t *testing.T) {
	ctx := context.Background()
	stub := newStubDynamo()
	item, err := attributevalue.MarshalMap(dynamoConnection{ID: "c1", SchemaVersion: 1, UserIDs: []string{"a"}})
	require.NoError(t, err)
	stub.items["c1"] = item

	_, err = NewDynamoConnectionRepository(stub, "connections").GetByID(ctx, "c1")
	assert.ErrorIs(t, err, models.ErrInvalidRecord)
}

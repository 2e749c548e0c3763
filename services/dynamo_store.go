package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vibin_video/models"
	"vibin_video/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ Store = (*DynamoStore)(nil)

// createPoolAttempts bounds retries of a pool create cancelled by a concurrent transaction.
const createPoolAttempts = 3

// TableNames are the physical table names, usually the model table names with a prefix.
type TableNames struct {
	Pools          string
	PoolKeys       string
	Queue          string
	Sessions       string
	ActiveSessions string
	Signals        string
}

func NewTableNames(prefix string) TableNames {
	return TableNames{
		Pools:          prefix + models.PoolsTable,
		PoolKeys:       prefix + models.PoolKeysTable,
		Queue:          prefix + models.QueueTable,
		Sessions:       prefix + models.SessionsTable,
		ActiveSessions: prefix + models.ActiveSessionsTable,
		Signals:        prefix + models.SignalsTable,
	}
}

type queueRow struct {
	ParticipantID string `dynamodbav:"participantId"`
	EntryID       string `dynamodbav:"entryId"`
	PoolID        string `dynamodbav:"poolId"`
	EnqueuedAt    int64  `dynamodbav:"enqueuedAt"`
	HeartbeatAt   int64  `dynamodbav:"heartbeatAt"`
}

func (r queueRow) entry() models.QueueEntry {
	return models.QueueEntry{
		EntryID:       r.EntryID,
		ParticipantID: r.ParticipantID,
		PoolID:        r.PoolID,
		EnqueuedAt:    time.Unix(0, r.EnqueuedAt).UTC(),
		HeartbeatAt:   time.Unix(0, r.HeartbeatAt).UTC(),
	}
}

type poolKeyRow struct {
	Key    string `dynamodbav:"key"`
	PoolID string `dynamodbav:"poolId"`
}

// activeRow locks a participant to its single ACTIVE session
type activeRow struct {
	ParticipantID string `dynamodbav:"participantId"`
	SessionID     string `dynamodbav:"sessionId"`
	PoolID        string `dynamodbav:"poolId"`
}

type signalRow struct {
	Inbox     string    `dynamodbav:"inbox"`
	SignalID  int64     `dynamodbav:"signalId"`
	SessionID string    `dynamodbav:"sessionId"`
	From      string    `dynamodbav:"fromParticipant"`
	To        string    `dynamodbav:"toParticipant"`
	Kind      string    `dynamodbav:"kind"`
	Payload   string    `dynamodbav:"payload"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
	ExpiresAt int64     `dynamodbav:"expiresAt"`
}

func (r signalRow) signal() models.Signal {
	return models.Signal{
		ID:        r.SignalID,
		SessionID: r.SessionID,
		From:      r.From,
		To:        r.To,
		Kind:      models.SignalKind(r.Kind),
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt,
		ExpiresAt: time.Unix(r.ExpiresAt, 0).UTC(),
	}
}

// DynamoStore is the DynamoDB Store. Pairing relies on TransactWriteItems with a conditional
// delete of the candidate's queue row; signal ids come from a conditional increment of the
// session's signalSeq.
type DynamoStore struct {
	Dynamo    *DynamoService
	Tables    TableNames
	Retention time.Duration
	logger    *zap.Logger
}

func NewDynamoStore(dynamo *DynamoService, tables TableNames, retention time.Duration, logger *zap.Logger) *DynamoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = models.DefaultSignalRetention
	}
	return &DynamoStore{Dynamo: dynamo, Tables: tables, Retention: retention, logger: logger}
}

var (
	stringKey   = utils.StringKey
	stringValue = utils.StringValue
	numberValue = utils.NumberValue
)

// ---- pools ----

func (s *DynamoStore) EnsurePool(ctx context.Context, pool models.Pool) (models.Pool, error) {
	err := s.CreatePool(ctx, pool)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, models.ErrKeyTaken) {
		return models.Pool{}, err
	}

	item, err := s.Dynamo.GetItem(ctx, s.Tables.PoolKeys, stringKey("key", pool.Key))
	if err != nil {
		return models.Pool{}, err
	}
	var keyRow poolKeyRow
	if err := attributevalue.UnmarshalMap(item, &keyRow); err != nil {
		return models.Pool{}, fmt.Errorf("failed to unmarshal pool key: %w", err)
	}

	updated, err := s.Dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Pools),
		Key:                 stringKey("poolId", keyRow.PoolID),
		UpdateExpression:    aws.String("SET #active = :true, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(poolId)"),
		ExpressionAttributeNames: map[string]string{
			"#active": "active",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":now":  stringValue(pool.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return models.Pool{}, err
	}
	var existing models.Pool
	if err := attributevalue.UnmarshalMap(updated, &existing); err != nil {
		return models.Pool{}, fmt.Errorf("failed to unmarshal pool: %w", err)
	}
	return existing, nil
}

func (s *DynamoStore) CreatePool(ctx context.Context, pool models.Pool) error {
	poolItem, err := attributevalue.MarshalMap(pool)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	keyItem, err := attributevalue.MarshalMap(poolKeyRow{Key: pool.Key, PoolID: pool.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal pool key: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = s.Dynamo.TransactWrite(ctx,
			types.TransactWriteItem{Put: &types.Put{
				TableName:                aws.String(s.Tables.PoolKeys),
				Item:                     keyItem,
				ConditionExpression:      aws.String("attribute_not_exists(#key)"),
				ExpressionAttributeNames: map[string]string{"#key": "key"},
			}},
			types.TransactWriteItem{Put: &types.Put{
				TableName:           aws.String(s.Tables.Pools),
				Item:                poolItem,
				ConditionExpression: aws.String("attribute_not_exists(poolId)"),
			}},
		)
		if !isTransactionCanceled(err) {
			return err
		}
		// a conflicting transaction says nothing about whether the key is free
		if !canceledByConflict(err) {
			return models.ErrKeyTaken
		}
		if attempt >= createPoolAttempts {
			return fmt.Errorf("create pool %q: %w", pool.Key, err)
		}
	}
}

func (s *DynamoStore) GetPool(ctx context.Context, poolID string) (models.Pool, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Pools, stringKey("poolId", poolID))
	if errors.Is(err, ErrItemNotFound) {
		return models.Pool{}, models.ErrPoolNotFound
	}
	if err != nil {
		return models.Pool{}, err
	}
	var pool models.Pool
	if err := attributevalue.UnmarshalMap(item, &pool); err != nil {
		return models.Pool{}, fmt.Errorf("failed to unmarshal pool: %w", err)
	}
	return pool, nil
}

func (s *DynamoStore) SavePool(ctx context.Context, pool models.Pool) error {
	item, err := attributevalue.MarshalMap(pool)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	err = s.Dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Tables.Pools),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(poolId)"),
	})
	if isConditionFailed(err) {
		return models.ErrPoolNotFound
	}
	return err
}

func (s *DynamoStore) ListActivePools(ctx context.Context) ([]models.Pool, error) {
	items, err := s.Dynamo.ScanAll(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.Tables.Pools),
		FilterExpression:         aws.String("#active = :true"),
		ExpressionAttributeNames: map[string]string{"#active": "active"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, err
	}
	var pools []models.Pool
	if err := attributevalue.UnmarshalListOfMaps(items, &pools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pools: %w", err)
	}
	return pools, nil
}

func (s *DynamoStore) countByPool(ctx context.Context, table string) (map[string]int, error) {
	items, err := s.Dynamo.ScanAll(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(table),
		ProjectionExpression: aws.String("poolId"),
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, item := range items {
		if poolID := utils.ExtractString(item, "poolId"); poolID != "" {
			counts[poolID]++
		}
	}
	return counts, nil
}

func (s *DynamoStore) CountWaiting(ctx context.Context) (map[string]int, error) {
	return s.countByPool(ctx, s.Tables.Queue)
}

// CountActiveSessions counts lock rows; every active session holds exactly two.
func (s *DynamoStore) CountActiveSessions(ctx context.Context) (map[string]int, error) {
	locks, err := s.countByPool(ctx, s.Tables.ActiveSessions)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(locks))
	for poolID, n := range locks {
		counts[poolID] = (n + 1) / 2
	}
	return counts, nil
}

// ---- queue ----

func (s *DynamoStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffValues := map[string]types.AttributeValue{":cutoff": numberValue(cutoff.UnixNano())}
	items, err := s.Dynamo.ScanAll(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.Tables.Queue),
		FilterExpression:          aws.String("heartbeatAt < :cutoff"),
		ExpressionAttributeValues: cutoffValues,
		ProjectionExpression:      aws.String("participantId"),
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, item := range items {
		participantID := utils.ExtractString(item, "participantId")
		if participantID == "" {
			continue
		}
		err := s.Dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(s.Tables.Queue),
			Key:                       stringKey("participantId", participantID),
			ConditionExpression:       aws.String("heartbeatAt < :cutoff"),
			ExpressionAttributeValues: cutoffValues,
		})
		if isConditionFailed(err) {
			// refreshed or claimed since the scan
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// UpsertWaiting refreshes the heartbeat of an entry in the same pool. Otherwise it replaces the entry,
// provided the participant holds no session lock.
func (s *DynamoStore) UpsertWaiting(ctx context.Context, participantID, poolID string, now time.Time) (models.QueueEntry, error) {
	current, err := s.GetWaiting(ctx, participantID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if current != nil && current.PoolID == poolID {
		_, err := s.Dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.Tables.Queue),
			Key:                 stringKey("participantId", participantID),
			UpdateExpression:    aws.String("SET heartbeatAt = :now"),
			ConditionExpression: aws.String("entryId = :entryId AND poolId = :poolId"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now":     numberValue(now.UnixNano()),
				":entryId": stringValue(current.EntryID),
				":poolId":  stringValue(poolID),
			},
		})
		if err == nil {
			current.HeartbeatAt = now
			return *current, nil
		}
		if !isConditionFailed(err) {
			return models.QueueEntry{}, err
		}
		// claimed or swept in between, enqueue afresh
	}

	row := queueRow{
		ParticipantID: participantID,
		EntryID:       uuid.NewString(),
		PoolID:        poolID,
		EnqueuedAt:    now.UnixNano(),
		HeartbeatAt:   now.UnixNano(),
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	err = s.Dynamo.TransactWrite(ctx,
		types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:           aws.String(s.Tables.ActiveSessions),
			Key:                 stringKey("participantId", participantID),
			ConditionExpression: aws.String("attribute_not_exists(participantId)"),
		}},
		types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.Tables.Queue), Item: item}},
	)
	if isTransactionCanceled(err) {
		return models.QueueEntry{}, ErrParticipantBusy
	}
	if err != nil {
		return models.QueueEntry{}, err
	}
	return row.entry(), nil
}

func (s *DynamoStore) GetWaiting(ctx context.Context, participantID string) (*models.QueueEntry, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Queue, stringKey("participantId", participantID))
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var row queueRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue entry: %w", err)
	}
	entry := row.entry()
	return &entry, nil
}

func (s *DynamoStore) RemoveWaiting(ctx context.Context, participantID string) error {
	return s.Dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Tables.Queue),
		Key:       stringKey("participantId", participantID),
	})
}

// RemoveWaitingEntry deletes the exact entry. A failed condition means the participant has a newer
// entry or none, and is not an error.
func (s *DynamoStore) RemoveWaitingEntry(ctx context.Context, entry models.QueueEntry) error {
	err := s.Dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.Tables.Queue),
		Key:                 stringKey("participantId", entry.ParticipantID),
		ConditionExpression: aws.String("entryId = :entryId AND poolId = :poolId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":entryId": stringValue(entry.EntryID),
			":poolId":  stringValue(entry.PoolID),
		},
	})
	if isConditionFailed(err) {
		return nil
	}
	return err
}

// OldestOther reads the pool index in enqueue order. The index is eventually consistent, so a
// returned entry may already be gone; the conditional claim rejects it in that case.
func (s *DynamoStore) OldestOther(ctx context.Context, poolID, excludeParticipantID string) (*models.QueueEntry, error) {
	var oldest *queueRow
	err := s.Dynamo.QueryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Queue),
		IndexName:              aws.String(models.QueueByPoolIndex),
		KeyConditionExpression: aws.String("poolId = :poolId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":poolId": stringValue(poolID),
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(10),
	}, func(items []map[string]types.AttributeValue) bool {
		for _, item := range items {
			var row queueRow
			if err := attributevalue.UnmarshalMap(item, &row); err != nil || row.ParticipantID == excludeParticipantID {
				continue
			}
			if oldest == nil {
				oldest = &row
				continue
			}
			if row.EnqueuedAt != oldest.EnqueuedAt {
				return false
			}
			if row.EntryID < oldest.EntryID {
				oldest = &row
			}
		}
		return oldest == nil
	})
	if err != nil || oldest == nil {
		return nil, err
	}
	entry := oldest.entry()
	return &entry, nil
}

// ---- sessions ----

func (s *DynamoStore) ActiveSessionFor(ctx context.Context, participantID string) (*models.Session, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.ActiveSessions, stringKey("participantId", participantID))
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lock activeRow
	if err := attributevalue.UnmarshalMap(item, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session lock: %w", err)
	}

	session, err := s.GetSession(ctx, lock.SessionID)
	if errors.Is(err, models.ErrSessionNotActive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, nil
	}
	return &session, nil
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Sessions, stringKey("sessionId", sessionID))
	if errors.Is(err, ErrItemNotFound) {
		return models.Session{}, models.ErrSessionNotActive
	}
	if err != nil {
		return models.Session{}, err
	}
	var session models.Session
	if err := attributevalue.UnmarshalMap(item, &session); err != nil {
		return models.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func (s *DynamoStore) lockPut(participantID string, session models.Session) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(activeRow{ParticipantID: participantID, SessionID: session.ID, PoolID: session.PoolID})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal session lock: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           aws.String(s.Tables.ActiveSessions),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(participantId)"),
	}}, nil
}

func (s *DynamoStore) lockDelete(participantID, sessionID string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:           aws.String(s.Tables.ActiveSessions),
		Key:                 stringKey("participantId", participantID),
		ConditionExpression: aws.String("attribute_not_exists(participantId) OR sessionId = :sessionId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sessionId": stringValue(sessionID),
		},
	}}
}

func (s *DynamoStore) ClaimAndCreateSession(ctx context.Context, claim Claim) (models.Session, error) {
	session := claim.Session
	sessionItem, err := attributevalue.MarshalMap(session)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}
	lockA, err := s.lockPut(session.ParticipantA, session)
	if err != nil {
		return models.Session{}, err
	}
	lockB, err := s.lockPut(session.ParticipantB, session)
	if err != nil {
		return models.Session{}, err
	}

	err = s.Dynamo.TransactWrite(ctx,
		// the claim: exactly one concurrent claimant can delete this exact entry
		types.TransactWriteItem{Delete: &types.Delete{
			TableName:           aws.String(s.Tables.Queue),
			Key:                 stringKey("participantId", claim.Candidate.ParticipantID),
			ConditionExpression: aws.String("entryId = :entryId AND poolId = :poolId"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":entryId": stringValue(claim.Candidate.EntryID),
				":poolId":  stringValue(claim.Candidate.PoolID),
			},
		}},
		types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.Tables.Queue),
			Key:       stringKey("participantId", claim.CallerID),
		}},
		types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.Tables.Sessions),
			Item:                sessionItem,
			ConditionExpression: aws.String("attribute_not_exists(sessionId)"),
		}},
		lockA,
		lockB,
	)
	if isTransactionCanceled(err) {
		s.logger.Debug("claim lost", zap.String("candidate", claim.Candidate.ParticipantID), zap.String("caller", claim.CallerID))
		return models.Session{}, models.ErrClaimConflict
	}
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// sequencedUpdate bumps signalSeq from the value last read, provided the session is still active.
func (s *DynamoStore) sequencedUpdate(session models.Session, set string, values map[string]types.AttributeValue) types.TransactWriteItem {
	values[":active"] = stringValue(models.SessionStatusActive)
	values[":seq"] = numberValue(session.SignalSeq)
	values[":next"] = numberValue(session.SignalSeq + 1)
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                           aws.String(s.Tables.Sessions),
		Key:                                 stringKey("sessionId", session.ID),
		UpdateExpression:                    aws.String("SET signalSeq = :next, " + set),
		ConditionExpression:                 aws.String("#status = :active AND signalSeq = :seq"),
		ExpressionAttributeNames:            map[string]string{"#status": "status"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}}
}

// sessionGone inspects a canceled sequenced transaction. It reports false when the write lost
// a race on the sequence (or to a concurrent transaction) and should be retried.
// canceledByConflict reports whether a cancellation was caused by a concurrent transaction
// rather than a failed condition.
func canceledByConflict(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) == "TransactionConflict" {
			return true
		}
	}
	return false
}

func sessionGone(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return true
	}
	if canceledByConflict(err) {
		return false
	}
	if len(canceled.CancellationReasons) == 0 {
		return true
	}
	first := canceled.CancellationReasons[0]
	if aws.ToString(first.Code) != "ConditionalCheckFailed" || first.Item == nil {
		return true
	}
	return utils.ExtractString(first.Item, "status") != models.SessionStatusActive
}

func (s *DynamoStore) signalPut(signal models.Signal) (types.TransactWriteItem, error) {
	payload := string(signal.Payload)
	if payload == "" {
		payload = "{}"
	}
	expiresAt := signal.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = signal.CreatedAt.Add(s.Retention)
	}
	item, err := attributevalue.MarshalMap(signalRow{
		Inbox:     inboxKey(signal.SessionID, signal.To),
		SignalID:  signal.ID,
		SessionID: signal.SessionID,
		From:      signal.From,
		To:        signal.To,
		Kind:      string(signal.Kind),
		Payload:   payload,
		CreatedAt: signal.CreatedAt,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal signal: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(s.Tables.Signals),
		Item:      item,
	}}, nil
}

func (s *DynamoStore) EndSession(ctx context.Context, end SessionEnd) (models.Session, error) {
	session := end.Session
	at := end.At.UTC().Format(time.RFC3339Nano)

	signal := end.PeerLeft
	signal.ID = session.SignalSeq + 1
	put, err := s.signalPut(signal)
	if err != nil {
		return models.Session{}, err
	}

	err = s.Dynamo.TransactWrite(ctx,
		s.sequencedUpdate(session, "#status = :ended, endedAt = :at, endedReason = :reason, updatedAt = :at", map[string]types.AttributeValue{
			":ended":  stringValue(models.SessionStatusEnded),
			":at":     stringValue(at),
			":reason": stringValue(end.Reason),
		}),
		s.lockDelete(session.ParticipantA, session.ID),
		s.lockDelete(session.ParticipantB, session.ID),
		put,
	)
	if isTransactionCanceled(err) {
		if !sessionGone(err) {
			return models.Session{}, ErrSequenceConflict
		}
		return models.Session{}, models.ErrAlreadyEnded
	}
	if err != nil {
		return models.Session{}, err
	}

	endedAt := end.At
	session.Status = models.SessionStatusEnded
	session.EndedAt = &endedAt
	session.EndedReason = end.Reason
	session.UpdatedAt = end.At
	session.SignalSeq++
	return session, nil
}

func (s *DynamoStore) AppendSignal(ctx context.Context, session models.Session, signal models.Signal) (models.Signal, error) {
	signal.ID = session.SignalSeq + 1
	if signal.ExpiresAt.IsZero() {
		signal.ExpiresAt = signal.CreatedAt.Add(s.Retention)
	}
	put, err := s.signalPut(signal)
	if err != nil {
		return models.Signal{}, err
	}

	err = s.Dynamo.TransactWrite(ctx,
		s.sequencedUpdate(session, "updatedAt = :now", map[string]types.AttributeValue{
			":now": stringValue(signal.CreatedAt.UTC().Format(time.RFC3339Nano)),
		}),
		put,
	)
	if isTransactionCanceled(err) {
		if !sessionGone(err) {
			return models.Signal{}, ErrSequenceConflict
		}
		return models.Signal{}, models.ErrSessionNotActive
	}
	if err != nil {
		return models.Signal{}, err
	}
	return signal, nil
}

// ListSignals reads the recipient's inbox past the cursor. Rows past their TTL may linger until
// DynamoDB removes them and are skipped here.
func (s *DynamoStore) ListSignals(ctx context.Context, sessionID, toParticipantID string, afterID int64, now time.Time, limit int) ([]models.Signal, error) {
	result := make([]models.Signal, 0)
	var decodeErr error
	err := s.Dynamo.QueryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Signals),
		KeyConditionExpression: aws.String("inbox = :inbox AND signalId > :after"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inbox": stringValue(inboxKey(sessionID, toParticipantID)),
			":after": numberValue(afterID),
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	}, func(items []map[string]types.AttributeValue) bool {
		for _, item := range items {
			var row signalRow
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				decodeErr = fmt.Errorf("failed to unmarshal signal: %w", err)
				return false
			}
			if row.ExpiresAt <= now.Unix() {
				continue
			}
			result = append(result, row.signal())
			if len(result) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return result, nil
}

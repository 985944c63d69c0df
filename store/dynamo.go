package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	headID       = "__head__"
	tombstoneTTL = 24 * time.Hour
)

// DynamoAPI is the slice of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type dynamoItem struct {
	PK         string `dynamodbav:"pk"`
	Collection string `dynamodbav:"collection,omitempty"`
	ID         string `dynamodbav:"id,omitempty"`
	Version    int64  `dynamodbav:"version"`
	Body       string `dynamodbav:"body,omitempty"`
	Deleted    bool   `dynamodbav:"deleted,omitempty"`
	UpdatedAt  string `dynamodbav:"updatedAt,omitempty"`
}

func dynamoKey(collection, id string) string {
	return collection + "#" + id
}

// Dynamo keeps every collection in one table keyed by "collection#id".
// Transactions are optimistic: the commit is a TransactWriteItems whose
// conditions pin the version of everything read. Deletes leave a tombstone so a
// re-created document never reuses a version. Collections listed in
// guardedCollections also carry a head item that every write to them bumps,
// which turns an insert into a conflict for transactions that queried them.
type Dynamo struct {
	client  DynamoAPI
	table   string
	guarded map[string]bool
	opts    Options
	now     func() time.Time
}

func NewDynamo(client DynamoAPI, table string, guardedCollections []string, opts Options) *Dynamo {
	guarded := make(map[string]bool, len(guardedCollections))
	for _, c := range guardedCollections {
		guarded[c] = true
	}
	return &Dynamo{
		client:  client,
		table:   table,
		guarded: guarded,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// EnsureTable creates the table on demand (on-demand billing, TTL left to the operator).
func (d *Dynamo) EnsureTable(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

// fetch returns the raw item, including tombstones and heads. present reports
// whether any item exists under the key.
func (d *Dynamo) fetch(ctx context.Context, pk string) (dynamoItem, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return dynamoItem{}, false, fmt.Errorf("get %s: %w", pk, err)
	}
	if out.Item == nil {
		return dynamoItem{}, false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return dynamoItem{}, false, fmt.Errorf("decode %s: %w", pk, err)
	}
	return item, true, nil
}

func itemDocument(collection, id string, item dynamoItem, present bool) (Document, error) {
	if !present || item.Deleted {
		return Document{Collection: collection, ID: id}, fmt.Errorf("%s: %w", key(collection, id), ErrNotFound)
	}
	return Document{
		Collection: collection,
		ID:         id,
		Version:    item.Version,
		Exists:     true,
		Data:       []byte(item.Body),
	}, nil
}

func (d *Dynamo) Get(ctx context.Context, collection, id string) (Document, error) {
	item, present, err := d.fetch(ctx, dynamoKey(collection, id))
	if err != nil {
		return Document{}, err
	}
	return itemDocument(collection, id, item, present)
}

func (d *Dynamo) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	docs, err := d.scanCollection(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return applyQuery(docs, q)
}

// scanCollection reads every live document of a collection. Filtering and
// ordering happen client side through applyQuery.
func (d *Dynamo) scanCollection(ctx context.Context, collection string) ([]Document, error) {
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                aws.String(d.table),
		ConsistentRead:           aws.Bool(true),
		FilterExpression:         aws.String("#c = :c AND (attribute_not_exists(#d) OR #d = :f)"),
		ExpressionAttributeNames: map[string]string{"#c": "collection", "#d": "deleted"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})

	var docs []Document
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode scan %s: %w", collection, err)
		}
		for _, item := range items {
			docs = append(docs, Document{
				Collection: item.Collection,
				ID:         item.ID,
				Version:    item.Version,
				Exists:     true,
				Data:       []byte(item.Body),
			})
		}
	}
	return docs, nil
}

func (d *Dynamo) Set(ctx context.Context, collection, id string, doc any) error {
	return d.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Set(collection, id, doc)
	})
}

func (d *Dynamo) Delete(ctx context.Context, collection, id string) error {
	return d.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Delete(collection, id)
	})
}

func (d *Dynamo) RunTransaction(ctx context.Context, fn TxFunc) error {
	var written []*memWrite
	err := runWithRetry(ctx, d.opts, func() error {
		tx := newDynamoTx(d)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if len(tx.order) == 0 {
			return nil
		}
		items, err := tx.plan(d.now())
		if err != nil {
			return err
		}
		_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err != nil {
			return mapDynamoError(err)
		}
		written = written[:0]
		for _, k := range tx.order {
			written = append(written, tx.writes[k])
		}
		return nil
	})
	if err != nil {
		return err
	}
	if d.opts.Notifier != nil {
		for _, w := range written {
			d.opts.Notifier.Publish(w.collection, w.id)
		}
	}
	return nil
}

func (d *Dynamo) Watch(ctx context.Context, collection, id string) (*Watch, error) {
	get := func(ctx context.Context) (Document, error) {
		return d.Get(ctx, collection, id)
	}
	return startWatch(ctx, get, d.opts.Notifier, d.opts.PollInterval, collection, id)
}

func (d *Dynamo) Close() error {
	return nil
}

func mapDynamoError(err error) error {
	var (
		canceled    *types.TransactionCanceledException
		conflict    *types.TransactionConflictException
		conditional *types.ConditionalCheckFailedException
	)
	if errors.As(err, &canceled) || errors.As(err, &conflict) || errors.As(err, &conditional) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return fmt.Errorf("transact write: %w", err)
}

// dynamoRead pins what a transaction saw under one key.
type dynamoRead struct {
	present bool
	version int64
}

type dynamoTx struct {
	d      *Dynamo
	reads  map[string]dynamoRead // by pk
	heads  map[string]dynamoRead // by collection
	writes map[string]*memWrite  // by pk
	order  []string
}

func newDynamoTx(d *Dynamo) *dynamoTx {
	return &dynamoTx{
		d:      d,
		reads:  make(map[string]dynamoRead),
		heads:  make(map[string]dynamoRead),
		writes: make(map[string]*memWrite),
	}
}

func (t *dynamoTx) Get(ctx context.Context, collection, id string) (Document, error) {
	pk := dynamoKey(collection, id)
	if w, ok := t.writes[pk]; ok {
		if w.deleted {
			return Document{Collection: collection, ID: id}, fmt.Errorf("%s: %w", key(collection, id), ErrNotFound)
		}
		return Document{Collection: collection, ID: id, Exists: true, Data: w.data}, nil
	}

	item, present, err := t.d.fetch(ctx, pk)
	if err != nil {
		return Document{}, err
	}
	if _, seen := t.reads[pk]; !seen {
		t.reads[pk] = dynamoRead{present: present, version: item.Version}
	}
	return itemDocument(collection, id, item, present)
}

func (t *dynamoTx) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if t.d.guarded[q.Collection] {
		if _, seen := t.heads[q.Collection]; !seen {
			head, present, err := t.d.fetch(ctx, dynamoKey(q.Collection, headID))
			if err != nil {
				return nil, err
			}
			t.heads[q.Collection] = dynamoRead{present: present, version: head.Version}
		}
	}

	committed, err := t.d.scanCollection(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	docs := committed[:0]
	for _, doc := range committed {
		if _, overwritten := t.writes[dynamoKey(doc.Collection, doc.ID)]; !overwritten {
			docs = append(docs, doc)
		}
	}
	for _, pk := range t.order {
		w := t.writes[pk]
		if w.collection == q.Collection && !w.deleted {
			docs = append(docs, Document{Collection: w.collection, ID: w.id, Exists: true, Data: w.data})
		}
	}
	return applyQuery(docs, q)
}

func (t *dynamoTx) Set(collection, id string, doc any) error {
	data, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	t.record(&memWrite{collection: collection, id: id, data: data})
	return nil
}

func (t *dynamoTx) Delete(collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("collection and id are required")
	}
	t.record(&memWrite{collection: collection, id: id, deleted: true})
	return nil
}

func (t *dynamoTx) record(w *memWrite) {
	pk := dynamoKey(w.collection, w.id)
	if _, ok := t.writes[pk]; !ok {
		t.order = append(t.order, pk)
	}
	t.writes[pk] = w
}

// plan builds the TransactWriteItems for the commit: one update per write, one
// condition check per read-only document, and head maintenance for guarded collections.
func (t *dynamoTx) plan(now time.Time) ([]types.TransactWriteItem, error) {
	table := aws.String(t.d.table)
	var items []types.TransactWriteItem

	touched := make(map[string]bool)
	for _, pk := range t.order {
		w := t.writes[pk]
		touched[w.collection] = true

		update := &types.Update{
			TableName: table,
			Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
			ExpressionAttributeNames: map[string]string{
				"#c": "collection", "#i": "id", "#b": "body", "#d": "deleted",
				"#u": "updatedAt", "#v": "version", "#x": "expiresAt",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c":   &types.AttributeValueMemberS{Value: w.collection},
				":i":   &types.AttributeValueMemberS{Value: w.id},
				":b":   &types.AttributeValueMemberS{Value: string(w.data)},
				":d":   &types.AttributeValueMemberBOOL{Value: w.deleted},
				":u":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		}
		if w.deleted {
			update.UpdateExpression = aws.String("SET #c = :c, #i = :i, #b = :b, #d = :d, #u = :u, #x = :x ADD #v :one")
			update.ExpressionAttributeValues[":x"] = &types.AttributeValueMemberN{
				Value: strconv.FormatInt(now.Add(tombstoneTTL).Unix(), 10),
			}
		} else {
			update.UpdateExpression = aws.String("SET #c = :c, #i = :i, #b = :b, #d = :d, #u = :u REMOVE #x ADD #v :one")
		}
		if r, ok := t.reads[pk]; ok {
			cond, values := versionCondition(r)
			update.ConditionExpression = aws.String(cond)
			for k, v := range values {
				update.ExpressionAttributeValues[k] = v
			}
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}

	for pk, r := range t.reads {
		if _, written := t.writes[pk]; written {
			continue
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: conditionCheck(table, pk, r)})
	}

	for collection := range t.d.guarded {
		r, read := t.heads[collection]
		if !read && !touched[collection] {
			continue
		}
		headPK := dynamoKey(collection, headID)
		if !touched[collection] {
			items = append(items, types.TransactWriteItem{ConditionCheck: conditionCheck(table, headPK, r)})
			continue
		}
		bump := &types.Update{
			TableName:                 table,
			Key:                       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: headPK}},
			UpdateExpression:          aws.String("ADD #v :one"),
			ExpressionAttributeNames:  map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		}
		if read {
			cond, values := versionCondition(r)
			bump.ConditionExpression = aws.String(cond)
			for k, v := range values {
				bump.ExpressionAttributeValues[k] = v
			}
		}
		items = append(items, types.TransactWriteItem{Update: bump})
	}

	if len(items) > 100 {
		return nil, fmt.Errorf("transaction touches %d items, dynamodb allows 100", len(items))
	}
	return items, nil
}

// versionCondition pins an item to what was read. It expects "#v" to name the
// version attribute.
func versionCondition(r dynamoRead) (string, map[string]types.AttributeValue) {
	if !r.present {
		return "attribute_not_exists(pk)", nil
	}
	return "#v = :seen", map[string]types.AttributeValue{
		":seen": &types.AttributeValueMemberN{Value: strconv.FormatInt(r.version, 10)},
	}
}

func conditionCheck(table *string, pk string, r dynamoRead) *types.ConditionCheck {
	cond, values := versionCondition(r)
	check := &types.ConditionCheck{
		TableName:           table,
		Key:                 map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		ConditionExpression: aws.String(cond),
	}
	if r.present {
		check.ExpressionAttributeNames = map[string]string{"#v": "version"}
		check.ExpressionAttributeValues = values
	}
	return check
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errClosed = errors.New("memory: collection closed")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// data holds the documents of one collection in natural (insertion) order
type data struct {
	mu   sync.RWMutex
	docs []bson.M
	ids  map[string]struct{}
}

func newData() *data {
	return &data{ids: make(map[string]struct{})}
}

type memoryCollection struct {
	data     *data
	database string
	name     string
	closed   atomic.Bool
}

// registry shares collections opened by name within the process
var registry = xsync.NewMapOf[string, *data]()

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// New creates an empty collection that is not shared with other handles
func New(database, collection string) db.Collection {
	return &memoryCollection{data: newData(), database: database, name: collection}
}

// Open returns a handle to the process wide collection database.collection,
// creating it on first use. Closing a handle keeps the documents for other handles.
func Open(database, collection string) db.Collection {
	d, _ := registry.LoadOrCompute(database+"."+collection, newData)
	return &memoryCollection{data: d, database: database, name: collection}
}

// Drop removes a shared collection from the registry
func Drop(database, collection string) {
	registry.Delete(database + "." + collection)
}

func (m *memoryCollection) check(ctx context.Context) error {
	if m.closed.Load() {
		return errClosed
	}
	return ctx.Err()
}

// filterOf normalizes a filter
func filterOf(filter bson.M) (bson.M, error) {
	if filter == nil {
		return bson.M{}, nil
	}
	return toDoc(filter)
}

// selectDocs returns the matching documents in natural order. Callers hold the lock.
func (d *data) selectDocs(filter bson.M, limit int) ([]int, error) {
	var out []int
	for i, doc := range d.docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, i)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// insert stores a normalized document. Callers hold the write lock.
func (d *data) insert(doc bson.M) (any, error) {
	id, ok := doc["_id"]
	if !ok {
		id = primitive.NewObjectID()
		doc["_id"] = id
	}
	if _, arr := id.(bson.A); arr {
		return nil, fmt.Errorf("the _id field cannot be an array")
	}

	key := idKey(id)
	if _, dup := d.ids[key]; dup {
		return nil, fmt.Errorf("%w: _id %v", db.ErrDuplicateKey, id)
	}
	d.ids[key] = struct{}{}
	d.docs = append(d.docs, doc)
	return id, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Collection)
// --------------------------------------------------------------------------

func (m *memoryCollection) Find(ctx context.Context, filter bson.M, o db.Options) ([]db.Document, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	f, err := filterOf(filter)
	if err != nil {
		return nil, err
	}
	proj, err := parseProjection(o.Projection)
	if err != nil {
		return nil, err
	}
	keys, err := parseSort(o.Sort)
	if err != nil {
		return nil, err
	}

	m.data.mu.RLock()
	idx, err := m.data.selectDocs(f, 0)
	selected := make([]bson.M, 0, len(idx))
	for _, i := range idx {
		selected = append(selected, m.data.docs[i])
	}
	m.data.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sortDocs(selected, keys)
	selected = window(selected, o.Skip, o.Limit)

	out := make([]db.Document, 0, len(selected))
	for _, doc := range selected {
		if proj != nil {
			out = append(out, proj.apply(doc))
		} else {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (m *memoryCollection) FindOne(ctx context.Context, filter bson.M, o db.Options) (db.Document, bool, error) {
	one := int64(1)
	o.Limit = &one

	docs, err := m.Find(ctx, filter, o)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (m *memoryCollection) Aggregate(ctx context.Context, pipeline []bson.M, _ db.Options) ([]db.Document, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.data.mu.RLock()
	snapshot := make([]bson.M, len(m.data.docs))
	copy(snapshot, m.data.docs)
	m.data.mu.RUnlock()

	// stages copy before they modify, the snapshot shares the stored documents
	out, err := aggregate(snapshot, pipeline)
	if err != nil {
		return nil, err
	}

	res := make([]db.Document, 0, len(out))
	for _, d := range out {
		res = append(res, copyDoc(d))
	}
	return res, nil
}

func (m *memoryCollection) CountDocuments(ctx context.Context, filter bson.M, o db.Options) (int64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	f, err := filterOf(filter)
	if err != nil {
		return 0, err
	}

	m.data.mu.RLock()
	idx, err := m.data.selectDocs(f, 0)
	m.data.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	return int64(len(window(idx, o.Skip, o.Limit))), nil
}

func (m *memoryCollection) Distinct(ctx context.Context, fieldName string, filter bson.M, _ db.Options) ([]any, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if fieldName == "" {
		return nil, fmt.Errorf("distinct needs a field name")
	}
	f, err := filterOf(filter)
	if err != nil {
		return nil, err
	}

	m.data.mu.RLock()
	defer m.data.mu.RUnlock()

	idx, err := m.data.selectDocs(f, 0)
	if err != nil {
		return nil, err
	}

	values := bson.A{}
	parts := splitPath(fieldName)
	for _, i := range idx {
		for _, v := range lookup(m.data.docs[i], parts) {
			items := bson.A{v}
			if arr, ok := v.(bson.A); ok {
				items = arr
			}
			for _, item := range items {
				if !contains(values, item) {
					values = append(values, deepCopy(item))
				}
			}
		}
	}
	return []any(values), nil
}

func (m *memoryCollection) InsertOne(ctx context.Context, doc any, _ db.Options) (any, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	d, err := toDoc(doc)
	if err != nil {
		return nil, err
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	return m.data.insert(d)
}

func (m *memoryCollection) InsertMany(ctx context.Context, docs []any, o db.Options) ([]any, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("must provide at least one element in input slice")
	}

	normalized := make([]bson.M, len(docs))
	for i, doc := range docs {
		d, err := toDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		normalized[i] = d
	}

	ordered := o.Ordered == nil || *o.Ordered

	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	ids := make([]any, 0, len(docs))
	var errs []error
	for i, d := range normalized {
		id, err := m.data.insert(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
			if ordered {
				break
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (m *memoryCollection) UpdateOne(ctx context.Context, filter bson.M, update any, o db.Options) (db.UpdateResult, error) {
	return m.update(ctx, filter, update, o, 1)
}

func (m *memoryCollection) UpdateMany(ctx context.Context, filter bson.M, update any, o db.Options) (db.UpdateResult, error) {
	return m.update(ctx, filter, update, o, 0)
}

func (m *memoryCollection) update(ctx context.Context, filter bson.M, update any, o db.Options, limit int) (db.UpdateResult, error) {
	if err := m.check(ctx); err != nil {
		return db.UpdateResult{}, err
	}
	if _, isPipeline := update.([]bson.M); isPipeline {
		return db.UpdateResult{}, fmt.Errorf("%w: update pipelines", db.ErrUnsupported)
	}

	f, err := filterOf(filter)
	if err != nil {
		return db.UpdateResult{}, err
	}
	u, err := toDoc(update)
	if err != nil {
		return db.UpdateResult{}, err
	}
	if err := checkUpdate(u); err != nil {
		return db.UpdateResult{}, err
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	idx, err := m.data.selectDocs(f, limit)
	if err != nil {
		return db.UpdateResult{}, err
	}

	if len(idx) == 0 {
		if o.Upsert == nil || !*o.Upsert {
			return db.UpdateResult{}, nil
		}
		seed, err := upsertSeed(f)
		if err != nil {
			return db.UpdateResult{}, err
		}
		if err := applyUpdate(seed, u, true); err != nil {
			return db.UpdateResult{}, err
		}
		id, err := m.data.insert(seed)
		if err != nil {
			return db.UpdateResult{}, err
		}
		return db.UpdateResult{UpsertedID: id}, nil
	}

	// apply to copies first so a failing update leaves all documents untouched
	updated := make([]bson.M, len(idx))
	var res db.UpdateResult
	for n, i := range idx {
		nd := copyDoc(m.data.docs[i])
		if err := applyUpdate(nd, u, false); err != nil {
			return db.UpdateResult{}, err
		}
		updated[n] = nd
		res.MatchedCount++
		if !docsIdentical(m.data.docs[i], nd) {
			res.ModifiedCount++
		}
	}
	for n, i := range idx {
		m.data.docs[i] = updated[n]
	}
	return res, nil
}

func (m *memoryCollection) ReplaceOne(ctx context.Context, filter bson.M, replacement any, o db.Options) (db.UpdateResult, error) {
	if err := m.check(ctx); err != nil {
		return db.UpdateResult{}, err
	}

	f, err := filterOf(filter)
	if err != nil {
		return db.UpdateResult{}, err
	}
	r, err := toDoc(replacement)
	if err != nil {
		return db.UpdateResult{}, err
	}
	if err := checkReplacement(r); err != nil {
		return db.UpdateResult{}, err
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	idx, err := m.data.selectDocs(f, 1)
	if err != nil {
		return db.UpdateResult{}, err
	}

	if len(idx) == 0 {
		if o.Upsert == nil || !*o.Upsert {
			return db.UpdateResult{}, nil
		}
		if _, ok := r["_id"]; !ok {
			if seed, err := upsertSeed(f); err == nil {
				if id, ok := seed["_id"]; ok {
					r["_id"] = id
				}
			}
		}
		id, err := m.data.insert(r)
		if err != nil {
			return db.UpdateResult{}, err
		}
		return db.UpdateResult{UpsertedID: id}, nil
	}

	old := m.data.docs[idx[0]]
	if id, ok := r["_id"]; ok && !valuesEqual(id, old["_id"]) {
		return db.UpdateResult{}, fmt.Errorf("the _id field cannot be changed by a replacement")
	}
	r["_id"] = old["_id"]

	res := db.UpdateResult{MatchedCount: 1}
	if !docsIdentical(old, r) {
		res.ModifiedCount = 1
	}
	m.data.docs[idx[0]] = r
	return res, nil
}

func (m *memoryCollection) DeleteOne(ctx context.Context, filter bson.M, _ db.Options) (int64, error) {
	return m.delete(ctx, filter, 1)
}

func (m *memoryCollection) DeleteMany(ctx context.Context, filter bson.M, _ db.Options) (int64, error) {
	return m.delete(ctx, filter, 0)
}

func (m *memoryCollection) delete(ctx context.Context, filter bson.M, limit int) (int64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	f, err := filterOf(filter)
	if err != nil {
		return 0, err
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	idx, err := m.data.selectDocs(f, limit)
	if err != nil || len(idx) == 0 {
		return 0, err
	}

	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
		delete(m.data.ids, idKey(m.data.docs[i]["_id"]))
	}
	kept := make([]bson.M, 0, len(m.data.docs)-len(idx))
	for i, doc := range m.data.docs {
		if !drop[i] {
			kept = append(kept, doc)
		}
	}
	m.data.docs = kept
	return int64(len(idx)), nil
}

// --------------------------------------------------------------------------
// Management
// --------------------------------------------------------------------------

func (m *memoryCollection) Name() string {
	return m.database + "." + m.name
}

func (m *memoryCollection) Ping(ctx context.Context) error {
	return m.check(ctx)
}

func (m *memoryCollection) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureFind |
		db.FeatureInsert |
		db.FeatureUpdate |
		db.FeatureReplace |
		db.FeatureDelete |
		db.FeatureAggregate |
		db.FeatureCount |
		db.FeatureDistinct
	return supported&feature == feature
}

func (m *memoryCollection) GetInfo(ctx context.Context) (db.Info, error) {
	if err := m.check(ctx); err != nil {
		return db.Info{}, err
	}

	m.data.mu.RLock()
	defer m.data.mu.RUnlock()

	var size int64
	for _, doc := range m.data.docs {
		if raw, err := bson.Marshal(doc); err == nil {
			size += int64(len(raw))
		}
	}

	return db.Info{
		Engine:     db.ImplMemory,
		Database:   m.database,
		Collection: m.name,
		Documents:  int64(len(m.data.docs)),
		SizeBytes:  size,
		SupportedFeatures: []db.Feature{
			db.FeatureFind, db.FeatureInsert, db.FeatureUpdate, db.FeatureReplace,
			db.FeatureDelete, db.FeatureAggregate, db.FeatureCount, db.FeatureDistinct,
		},
		Metadata: &struct {
			Info string `json:"info"`
		}{
			Info: "Documents live in process memory and are lost on restart.",
		},
	}, nil
}

func (m *memoryCollection) Close(_ context.Context) error {
	m.closed.Store(true)
	return nil
}

// Package sensingtest provides an in-memory store with the unique index semantics of
// the MongoDB store, for tests of the ingestion and aggregation packages.
package sensingtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
)

type Store struct {
	names types.CollectionNames

	mu           sync.Mutex
	docs         map[string][]bson.M
	keys         map[string]map[string]bool
	users        []bson.M
	summaries    map[string]types.DailySummary
	fileFailures map[string]types.FileFailure

	// FailInsert makes InsertMany fail for a collection.
	FailInsert map[string]error
	// FailQueries makes every read fail.
	FailQueries error
	// InsertCalls counts InsertMany calls per collection.
	InsertCalls map[string]int
}

func NewStore(names types.CollectionNames) *Store {
	if names == nil {
		names = types.DefaultCollectionNames()
	}
	return &Store{
		names:        names,
		docs:         map[string][]bson.M{},
		keys:         map[string]map[string]bool{},
		summaries:    map[string]types.DailySummary{},
		fileFailures: map[string]types.FileFailure{},
		FailInsert:   map[string]error{},
		InsertCalls:  map[string]int{},
	}
}

// InsertMany skips documents violating the collection's unique key like an unordered insert.
func (s *Store) InsertMany(_ context.Context, collection string, docs []any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InsertCalls[collection]++
	if err, ok := s.FailInsert[collection]; ok {
		return 0, err
	}

	var fields []string
	if key, ok := s.names.KeyOf(collection); ok {
		fields = types.UniqueKeys[key]
	}
	if s.keys[collection] == nil {
		s.keys[collection] = map[string]bool{}
	}

	inserted := 0
	for _, d := range docs {
		m, err := toM(d)
		if err != nil {
			return inserted, err
		}
		if len(fields) > 0 {
			k := uniqueKey(m, fields)
			if s.keys[collection][k] {
				continue
			}
			s.keys[collection][k] = true
		}
		s.docs[collection] = append(s.docs[collection], m)
		inserted++
	}
	return inserted, nil
}

// Docs returns a copy of the stored documents of a collection.
func (s *Store) Docs(collection string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.M(nil), s.docs[collection]...)
}

func (s *Store) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

// AddUser stores a user document, e.g. {"uid": "u1", "ios_login_time": []int64{...}}.
func (s *Store) AddUser(doc bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, doc)
}

func (s *Store) GetUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQueries != nil {
		return nil, s.FailQueries
	}
	ids := []string{}
	for _, u := range s.users {
		if uid, ok := u["uid"].(string); ok && uid != "" {
			ids = append(ids, uid)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) GetActiveUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQueries != nil {
		return nil, s.FailQueries
	}
	ids := []string{}
	for _, u := range s.users {
		uid, ok := u["uid"].(string)
		if !ok || uid == "" {
			continue
		}
		if types.HasLoginActivity(u) {
			ids = append(ids, uid)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) FindLocationFixes(_ context.Context, uid string, start, end float64, eventCodes []int) ([]types.LocationFix, error) {
	var out []types.LocationFix
	err := s.find(types.CollLocation, uid, start, end, func(m bson.M) bool {
		code := asInt(m["event_id"])
		for _, c := range eventCodes {
			if code == c {
				return true
			}
		}
		return false
	}, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, err
}

func (s *Store) CountWornHeartRateSamples(_ context.Context, uid string, start, end float64) (int64, error) {
	var out []types.HeartRateSample
	if err := s.find(types.CollGarminHR, uid, start, end, func(m bson.M) bool {
		hr, _ := m["heart_rate"].(float64)
		return hr > 0
	}, &out); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

func (s *Store) CountStressSamples(_ context.Context, uid string, start, end float64) (int64, error) {
	var out []types.StressSample
	if err := s.find(types.CollGarminStress, uid, start, end, nil, &out); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

func (s *Store) FindEMAStatusEvents(_ context.Context, uid string, start, end float64) ([]types.EMAStatusEvent, error) {
	var out []types.EMAStatusEvent
	err := s.find(types.CollEMAStatus, uid, start, end, nil, &out)
	return out, err
}

func (s *Store) FindEMAResponses(_ context.Context, uid string, start, end float64) ([]types.EMAResponse, error) {
	var out []types.EMAResponse
	err := s.find(types.CollEMAResponse, uid, start, end, nil, &out)
	return out, err
}

func (s *Store) FindAppUsageEvents(_ context.Context, uid string, start, end float64) ([]types.AppUsageEvent, error) {
	var out []types.AppUsageEvent
	err := s.find(types.CollAppUsage, uid, start, end, nil, &out)
	return out, err
}

func (s *Store) ReplaceDailySummary(_ context.Context, summary types.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQueries != nil {
		return s.FailQueries
	}
	s.summaries[summaryKey(summary.UID, summary.Date)] = summary
	return nil
}

// Summary returns the stored summary of uid for the day starting at date.
func (s *Store) Summary(uid string, date time.Time) (types.DailySummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[summaryKey(uid, float64(date.UnixNano())/1e9)]
	return sum, ok
}

func (s *Store) SummaryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}

func (s *Store) IncrementFileFailure(_ context.Context, path string, uid string, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.fileFailures[path]
	f.Path = path
	f.UID = uid
	f.Attempts++
	f.LastError = reason
	f.LastAttempt = time.Now()
	s.fileFailures[path] = f
	return f.Attempts, nil
}

func (s *Store) ClearFileFailure(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fileFailures, path)
	return nil
}

func (s *Store) FileFailure(path string) (types.FileFailure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fileFailures[path]
	return f, ok
}

// find decodes the matching documents of a collection into out, a pointer to a slice.
func (s *Store) find(key types.CollectionKey, uid string, start, end float64, match func(bson.M) bool, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQueries != nil {
		return s.FailQueries
	}

	matched := bson.A{}
	for _, m := range s.docs[s.names.Name(key)] {
		if m["uid"] != uid {
			continue
		}
		ts, _ := m["timestamp"].(float64)
		if ts < start || ts >= end {
			continue
		}
		if match != nil && !match(m) {
			continue
		}
		matched = append(matched, m)
	}

	raw, err := bson.Marshal(bson.M{"items": matched})
	if err != nil {
		return err
	}
	holder := bson.Raw(raw)
	return holder.Lookup("items").Unmarshal(out)
}

// toM normalizes a document the way it would come back from the database.
func toM(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func uniqueKey(m bson.M, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%v", m[f])
	}
	return strings.Join(parts, "\x00")
}

func summaryKey(uid string, date float64) string {
	return fmt.Sprintf("%s\x00%.3f", uid, date)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return -1
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// DefaultSummaryTTL bounds staleness after a missed invalidation event.
const DefaultSummaryTTL = 10 * time.Minute

// SummaryCache stores per-student points summaries as JSON, one key per
// (student, subject). Each student also has an index set naming their
// summary keys, so invalidation is a read of one set instead of a keyspace
// scan.
//
// Every student has a generation counter that Invalidate bumps. Entries carry
// the generation they were computed under; Get ignores entries from an older
// generation and Set refuses to store one, so a summary computed before a
// ledger write can never land after that write's invalidation.
//
// It satisfies query.SummaryCache and eventhandler.SummaryInvalidator.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// setIfCurrent stores KEYS[2] and indexes it in KEYS[3] only while the
// generation in KEYS[1] still equals ARGV[1].
var setIfCurrent = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[3], KEYS[2])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

type summaryEntry struct {
	Gen     int64           `json:"gen"`
	Summary json.RawMessage `json:"summary"`
}

// NewSummaryCache creates a SummaryCache. A non-positive ttl uses
// DefaultSummaryTTL.
func NewSummaryCache(cache *Cache, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &SummaryCache{client: cache.client, ttl: ttl}
}

// SummaryKey is the key of one cached summary. An empty subject means the
// unfiltered ledger.
func SummaryKey(studentID shared.StudentID, subjectID shared.SubjectID) string {
	subject := subjectID.String()
	if subject == "" {
		subject = "_"
	}
	return "summary:" + studentID.String() + ":" + subject
}

func indexKey(studentID shared.StudentID) string {
	return "summary-index:" + studentID.String()
}

// GenerationKey holds the invalidation counter of a student.
func GenerationKey(studentID shared.StudentID) string {
	return "summary-gen:" + studentID.String()
}

// Get decodes the cached summary into dest and returns the student's current
// generation, which the caller hands back to Set. A miss returns false with
// no error; an undecodable value counts as a miss and is dropped.
func (s *SummaryCache) Get(ctx context.Context, studentID shared.StudentID, subjectID shared.SubjectID, dest any) (bool, int64, error) {
	key := SummaryKey(studentID, subjectID)

	var genCmd, dataCmd *redis.StringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		genCmd = p.Get(ctx, GenerationKey(studentID))
		dataCmd = p.Get(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("summary cache get: %w", err)
	}

	gen, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("summary cache generation: %w", err)
	}
	data, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return false, gen, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("summary cache get: %w", err)
	}

	var entry summaryEntry
	if err := json.Unmarshal(data, &entry); err != nil || json.Unmarshal(entry.Summary, dest) != nil {
		_ = s.client.Del(ctx, key).Err()
		return false, gen, nil
	}
	if entry.Gen != gen {
		return false, gen, nil
	}
	return true, gen, nil
}

// Set caches a summary computed under generation gen and records its key in
// the student's index. It is a no-op once the student has been invalidated
// since gen was read.
func (s *SummaryCache) Set(ctx context.Context, studentID shared.StudentID, subjectID shared.SubjectID, gen int64, summary any) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("summary cache encode: %w", err)
	}
	data, err := json.Marshal(summaryEntry{Gen: gen, Summary: raw})
	if err != nil {
		return fmt.Errorf("summary cache encode: %w", err)
	}

	keys := []string{GenerationKey(studentID), SummaryKey(studentID, subjectID), indexKey(studentID)}
	err = setIfCurrent.Run(ctx, s.client, keys, strconv.FormatInt(gen, 10), data, s.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("summary cache set: %w", err)
	}
	return nil
}

// Invalidate bumps the generation of each student and drops their cached
// summaries in every subject.
func (s *SummaryCache) Invalidate(ctx context.Context, studentIDs ...shared.StudentID) error {
	var errs []error
	for _, id := range studentIDs {
		if !id.IsValid() {
			continue
		}
		if err := s.client.Incr(ctx, GenerationKey(id)).Err(); err != nil {
			errs = append(errs, fmt.Errorf("summary cache generation %s: %w", id, err))
			continue
		}
		idx := indexKey(id)
		keys, err := s.client.SMembers(ctx, idx).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("summary cache index %s: %w", id, err))
			continue
		}
		if err := s.client.Del(ctx, append(keys, idx)...).Err(); err != nil {
			errs = append(errs, fmt.Errorf("summary cache invalidate %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

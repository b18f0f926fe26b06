package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// MaxModuleSlots is the number of module columns in a summary.
const MaxModuleSlots = 12

// BucketSource records which rule placed a transaction.
type BucketSource string

const (
	SourceModuleID BucketSource = "module_id"
	SourceQuestion BucketSource = "question_id"
	SourceWeek     BucketSource = "week_number"
	SourceReason   BucketSource = "reason"
	SourceFallback BucketSource = "fallback"
)

// Bucket is the display cell of a module-scoped transaction.
// ModuleID is a real module ID, or EmptySlotID(Slot) when no module backs the slot.
type Bucket struct {
	Slot     int
	ModuleID shared.ModuleID
	Source   BucketSource
}

// EmptySlotID names a slot that has no module behind it.
func EmptySlotID(slot int) shared.ModuleID {
	return shared.ModuleID(fmt.Sprintf("slot-%d", slot))
}

// parseEmptySlotID is the inverse of EmptySlotID.
func parseEmptySlotID(id shared.ModuleID) (int, bool) {
	s, ok := strings.CutPrefix(string(id), "slot-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= MaxModuleSlots {
		return 0, false
	}
	return n, true
}

// Bucketer assigns transactions to module slots. It is a lossy, best-effort
// classifier over historical rows: identical inputs always give identical output,
// but it is not an inverse of how the rows were created.
type Bucketer struct {
	modules       []*course.Module
	moduleIndex   map[shared.ModuleID]int
	questionIndex map[shared.QuestionID]int
	legacyReason  bool
}

// BucketerOption configures a Bucketer.
type BucketerOption func(*Bucketer)

// WithLegacyWeekParsing toggles parsing "week N" out of the reason text.
// Enabled by default; rows created since module_id was recorded never need it.
func WithLegacyWeekParsing(enabled bool) BucketerOption {
	return func(b *Bucketer) { b.legacyReason = enabled }
}

// NewBucketer builds a bucketer over the subject's modules, in display order.
func NewBucketer(modules []*course.Module, opts ...BucketerOption) *Bucketer {
	b := &Bucketer{
		modules:       modules,
		moduleIndex:   make(map[shared.ModuleID]int, len(modules)),
		questionIndex: make(map[shared.QuestionID]int),
		legacyReason:  true,
	}
	for i, m := range modules {
		if _, dup := b.moduleIndex[m.ID]; !dup {
			b.moduleIndex[m.ID] = i
		}
		for _, q := range m.QuestionIDs {
			// First module wins if a question is listed twice.
			if _, seen := b.questionIndex[q]; !seen {
				b.questionIndex[q] = i
			}
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Modules returns the module list the bucketer was built with.
func (b *Bucketer) Modules() []*course.Module {
	return b.modules
}

// SlotCount returns the number of module-backed slots.
func (b *Bucketer) SlotCount() int {
	return min(len(b.modules), MaxModuleSlots)
}

// Bucket classifies t. The second return is false for special categories,
// which are never bucketed by module.
func (b *Bucketer) Bucket(t *Transaction) (Bucket, bool) {
	if !t.Category.IsModuleScoped() {
		return Bucket{}, false
	}

	if t.ModuleID.IsValid() {
		if i, ok := b.moduleIndex[t.ModuleID]; ok {
			return b.moduleBucket(i, SourceModuleID), true
		}
	}

	if t.QuestionID.IsValid() {
		if i, ok := b.questionIndex[t.QuestionID]; ok {
			return b.moduleBucket(i, SourceQuestion), true
		}
	}

	if t.WeekNumber > 0 {
		return b.weekBucket(t.WeekNumber, SourceWeek), true
	}

	if b.legacyReason {
		if week, ok := ParseWeek(t.Reason); ok {
			return b.weekBucket(week, SourceReason), true
		}
	}

	if len(b.modules) > 0 {
		return b.moduleBucket(0, SourceFallback), true
	}
	return Bucket{Slot: 0, ModuleID: EmptySlotID(0), Source: SourceFallback}, true
}

// SlotOf resolves a cell's module reference into a slot, or -1 if unknown.
func (b *Bucketer) SlotOf(moduleID shared.ModuleID) int {
	if i, ok := b.moduleIndex[moduleID]; ok {
		return min(i, MaxModuleSlots-1)
	}
	if n, ok := parseEmptySlotID(moduleID); ok {
		return n
	}
	return -1
}

// ModuleForWeek maps a course-wide week to a module, three weeks per module,
// wrapping around the module list. Returns nil when there are no modules.
func (b *Bucketer) ModuleForWeek(week int) *course.Module {
	if len(b.modules) == 0 || week < 1 {
		return nil
	}
	return b.modules[((week-1)/course.WeeksPerModule)%len(b.modules)]
}

func (b *Bucketer) moduleBucket(i int, src BucketSource) Bucket {
	return Bucket{
		Slot:     min(i, MaxModuleSlots-1),
		ModuleID: b.modules[i].ID,
		Source:   src,
	}
}

func (b *Bucketer) weekBucket(week int, src BucketSource) Bucket {
	cycle := (week - 1) / course.WeeksPerModule
	if len(b.modules) > 0 {
		return b.moduleBucket(cycle%len(b.modules), src)
	}
	slot := min(cycle, MaxModuleSlots-1)
	return Bucket{Slot: slot, ModuleID: EmptySlotID(slot), Source: src}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEGACY WEEK PARSING
// ══════════════════════════════════════════════════════════════════════════════

// weekPattern matches "week 4", "Week #4", and, after diacritics are folded,
// the Slovak "týždeň 4" / "tyzden 4".
var weekPattern = regexp.MustCompile(`(?i)\b(?:week|tyzden)\s*#?\s*(\d{1,3})\b`)

// foldDiacritics strips combining marks: "týždeň" becomes "tyzden".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ParseWeek extracts the first week number mentioned in a free-text reason.
func ParseWeek(reason string) (int, bool) {
	if reason == "" {
		return 0, false
	}
	m := weekPattern.FindStringSubmatch(foldDiacritics(reason))
	if m == nil {
		return 0, false
	}
	week, err := strconv.Atoi(m[1])
	if err != nil || week < 1 {
		return 0, false
	}
	return week, true
}

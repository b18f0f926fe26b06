// Package ledger contains the point ledger: append-only point transactions,
// their bucketing into (module, category) cells, aggregation into summaries,
// and reconciliation of an edited cell back onto a single transaction.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// Category is the closed set of reasons a transaction can award points for.
type Category string

const (
	CategoryQuestionCreation   Category = "question_creation"
	CategoryQuestionValidation Category = "question_validation"
	CategoryQuestionReparation Category = "question_reparation"
	CategoryTestPerformance    Category = "test_performance"
	CategoryForumParticipation Category = "forum_participation"
	CategoryProjectWork        Category = "project_work"
	CategoryOther              Category = "other"
)

// ModuleCategories are bucketed per module. Order matches summary columns.
var ModuleCategories = []Category{
	CategoryQuestionCreation,
	CategoryQuestionValidation,
	CategoryQuestionReparation,
}

// SpecialCategories aggregate independently of module and week.
var SpecialCategories = []Category{
	CategoryTestPerformance,
	CategoryForumParticipation,
	CategoryProjectWork,
	CategoryOther,
}

// ErrUnknownCategory is returned for any value outside the enumeration.
var ErrUnknownCategory = shared.NewDomainError("ledger", "ParseCategory", shared.ErrInvalidInput, "unknown point category")

// ParseCategory converts a string into a Category. Matching is exact after trimming;
// a typo is an error rather than a new bucket.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// IsValid reports whether c is one of the enumerated categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryQuestionCreation, CategoryQuestionValidation, CategoryQuestionReparation,
		CategoryTestPerformance, CategoryForumParticipation, CategoryProjectWork, CategoryOther:
		return true
	}
	return false
}

// IsModuleScoped reports whether the category is bucketed per module.
func (c Category) IsModuleScoped() bool {
	switch c {
	case CategoryQuestionCreation, CategoryQuestionValidation, CategoryQuestionReparation:
		return true
	}
	return false
}

// String returns the wire name.
func (c Category) String() string {
	return string(c)
}

// UnmarshalJSON rejects unknown categories at the edge.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles. Most flags are process-wide switches
// read once at wiring time; percentage rollout exists for flags evaluated per
// user.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID    string
	IsTeacher bool
}

// Predefined feature flag names.
const (
	// Bucket transactions without week_number by the week named in their
	// reason text.
	FeatureLegacyWeekParsing = "ledger.legacy_week_parsing"

	// Reject lifecycle steps outside the module week they belong to.
	FeatureEnforcePhaseWindows = "questions.enforce_phase_windows"

	// Compensate students whose assignment is short of peer questions.
	FeatureAutomaticPoints = "assignments.automatic_points"

	// Cache computed points summaries in Redis.
	FeatureSummaryCache = "summary.cache"

	// Serve the XLSX export of the points table.
	FeatureSummaryExport = "summary.export"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureLegacyWeekParsing] = &Feature{
		Name:           FeatureLegacyWeekParsing,
		Description:    "Derive module buckets from week numbers in reason text",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEnforcePhaseWindows] = &Feature{
		Name:           FeatureEnforcePhaseWindows,
		Description:    "Restrict create/validate/respond to their module week",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAutomaticPoints] = &Feature{
		Name:           FeatureAutomaticPoints,
		Description:    "Award validation points for missing peer questions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSummaryCache] = &Feature{
		Name:           FeatureSummaryCache,
		Description:    "Cache points summaries in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSummaryExport] = &Feature{
		Name:           FeatureSummaryExport,
		Description:    "Teacher XLSX export of the points table",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_SUMMARY_CACHE=false
// Example: FEATURE_ASSIGNMENTS_AUTOMATIC_POINTS=50 (50% rollout)
// FEATURE_<NAME>_FROM and FEATURE_<NAME>_UNTIL take RFC 3339 timestamps and
// bound when the flag is on.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		key := featureNameToEnvKey(name)
		if t, err := time.Parse(time.RFC3339, os.Getenv(key+"_FROM")); err == nil {
			feature.EnabledFrom = &t
		}
		if t, err := time.Parse(time.RFC3339, os.Getenv(key+"_UNTIL")); err == nil {
			feature.EnabledUntil = &t
		}

		val := os.Getenv(key)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "summary.cache" -> "FEATURE_SUMMARY_CACHE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context. A nil
// context evaluates the process-wide switch: partial rollouts count as on.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.UserID != "" {
		if overrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for wiring ---

// LegacyWeekParsing reports the ledger.legacy_week_parsing switch.
func (ff *FeatureFlags) LegacyWeekParsing() bool {
	return ff.IsEnabled(FeatureLegacyWeekParsing, nil)
}

// EnforcePhaseWindows reports the questions.enforce_phase_windows switch.
func (ff *FeatureFlags) EnforcePhaseWindows() bool {
	return ff.IsEnabled(FeatureEnforcePhaseWindows, nil)
}

// AutomaticPoints reports the assignments.automatic_points switch.
func (ff *FeatureFlags) AutomaticPoints() bool {
	return ff.IsEnabled(FeatureAutomaticPoints, nil)
}

// AutomaticPointsFor evaluates assignments.automatic_points for one student,
// applying user overrides and the rollout percentage.
func (ff *FeatureFlags) AutomaticPointsFor(studentID string) bool {
	return ff.IsEnabled(FeatureAutomaticPoints, &FeatureContext{UserID: studentID})
}

// Snapshot reports every flag as evaluated process-wide, for startup logs.
func (ff *FeatureFlags) Snapshot() map[string]bool {
	all := ff.GetAllFeatures()
	out := make(map[string]bool, len(all))
	for name := range all {
		out[name] = ff.IsEnabled(name, nil)
	}
	return out
}

// SummaryCache reports the summary.cache switch.
func (ff *FeatureFlags) SummaryCache() bool {
	return ff.IsEnabled(FeatureSummaryCache, nil)
}

// SummaryExport reports the summary.export switch.
func (ff *FeatureFlags) SummaryExport() bool {
	return ff.IsEnabled(FeatureSummaryExport, nil)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}

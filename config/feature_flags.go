package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual per-child rollout.
// A child stays in the same rollout bucket for a feature across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for support and debugging)
	childOverrides map[string]map[string]bool // childID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Children are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	ChildID string
	IsAdmin bool
}

// Predefined feature flag names.
const (
	FeatureIllustrations = "content.illustrations"     // Background image enrichment
	FeatureStreakFreeze  = "streak.freeze"             // One missed day is forgiven
	FeatureCelebrations  = "achievements.celebrations" // Debounced celebration events
	FeatureRealtimeSync  = "sync.realtime"             // Websocket change stream
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:       make(map[string]*Feature),
		childOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureIllustrations] = &Feature{
		Name:           FeatureIllustrations,
		Description:    "Generate section illustrations in the background",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureStreakFreeze] = &Feature{
		Name:           FeatureStreakFreeze,
		Description:    "Bridge a single missed day in a streak",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureCelebrations] = &Feature{
		Name:           FeatureCelebrations,
		Description:    "Celebrate newly earned badges",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRealtimeSync] = &Feature{
		Name:           FeatureRealtimeSync,
		Description:    "Push changes to connected devices",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_STREAK_FREEZE=true
// Example: FEATURE_CONTENT_ILLUSTRATIONS=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
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
// "streak.freeze" -> "FEATURE_STREAK_FREEZE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.ChildID != "" {
		if overrides, ok := ff.childOverrides[ctx.ChildID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.ChildID != "" {
		return isInRollout(ctx.ChildID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// EnabledFor reports whether a feature is on for a child.
func (ff *FeatureFlags) EnabledFor(featureName, childID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{ChildID: childID})
}

// Gate returns a per-child predicate for one feature, suitable for handler
// configs that take func(childID string) bool.
func (ff *FeatureFlags) Gate(featureName string) func(childID string) bool {
	return func(childID string) bool {
		return ff.EnabledFor(featureName, childID)
	}
}

// isInRollout determines if a child is in the rollout percentage.
func isInRollout(childID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(childID))
	return int(h.Sum32()%100) < percent
}

// SetChildOverride sets a feature override for a specific child.
func (ff *FeatureFlags) SetChildOverride(childID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.childOverrides[childID]; !ok {
		ff.childOverrides[childID] = make(map[string]bool)
	}
	ff.childOverrides[childID][featureName] = enabled
}

// ClearChildOverrides removes all overrides for a child.
func (ff *FeatureFlags) ClearChildOverrides(childID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.childOverrides, childID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
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

package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sparkquest-hub", cfg.App.Name)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 20*time.Second, cfg.Resolver.GenerationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Resolver.IllustrationTimeout)
	assert.Equal(t, 1024, cfg.Resolver.FallbackMemoSize)
	assert.Equal(t, 5*time.Second, cfg.Engagement.CelebrationCooldown)
	assert.Equal(t, RewardsConfig{Section: 10, Quiz: 25, Certificate: 50, StreakBonus: 5}, cfg.Rewards)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.False(t, cfg.Generator.Enabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/sq")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("REWARD_SECTION", "15")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, int64(15), cfg.Rewards.Section)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.Generator.Enabled())
}

func TestLoad_InvalidValuesAreReportedTogether(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("SCHEDULER_RECONCILE_HOUR", "25")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "LogFormat")
	assert.Contains(t, msg, "ReconcileHour")
}

func TestValidate_ProductionRequiresPostgres(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production requires the postgres driver")
}

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.EnabledFor(FeatureIllustrations, "kid-1"))
	assert.True(t, ff.EnabledFor(FeatureCelebrations, "kid-1"))
	assert.False(t, ff.EnabledFor(FeatureStreakFreeze, "kid-1"))
	assert.False(t, ff.EnabledFor("unknown.feature", "kid-1"))
}

func TestFeatureFlags_EnvironmentOverride(t *testing.T) {
	t.Setenv("FEATURE_STREAK_FREEZE", "true")
	t.Setenv("FEATURE_CONTENT_ILLUSTRATIONS", "0")

	ff := LoadFeatureFlags()

	assert.True(t, ff.EnabledFor(FeatureStreakFreeze, "kid-1"))
	assert.False(t, ff.EnabledFor(FeatureIllustrations, "kid-1"))
}

func TestFeatureFlags_RolloutIsStablePerChild(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureStreakFreeze, 50))

	gate := ff.Gate(FeatureStreakFreeze)
	in := 0
	for i := 0; i < 200; i++ {
		child := "kid-" + strconv.Itoa(i)
		first := gate(child)
		assert.Equal(t, first, gate(child))
		if first {
			in++
		}
	}
	assert.Greater(t, in, 0)
	assert.Less(t, in, 200)
}

func TestFeatureFlags_ChildOverrideWins(t *testing.T) {
	ff := LoadFeatureFlags()

	ff.SetChildOverride("kid-1", FeatureStreakFreeze, true)
	assert.True(t, ff.EnabledFor(FeatureStreakFreeze, "kid-1"))
	assert.False(t, ff.EnabledFor(FeatureStreakFreeze, "kid-2"))

	ff.ClearChildOverrides("kid-1")
	assert.False(t, ff.EnabledFor(FeatureStreakFreeze, "kid-1"))
}

func TestFeatureFlags_SetRolloutPercent(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureRealtimeSync, 101), ErrInvalidRolloutPercent)

	require.NoError(t, ff.DisableFeature(FeatureRealtimeSync))
	assert.False(t, ff.GetAllFeatures()[FeatureRealtimeSync].Enabled)
}

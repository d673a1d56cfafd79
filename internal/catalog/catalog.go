// Package catalog loads the static achievement, reward and progression
// configuration from YAML.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/MarkoPoloResearchLab/gamification/pkg/progression"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is the decoded configuration file.
type Catalog struct {
	Progression  ProgressionConfig                    `yaml:"progression"`
	StreakBonus  gamification.StreakBonusPolicy       `yaml:"streak_bonus"`
	Achievements []gamification.AchievementDefinition `yaml:"achievements"`
	Rewards      []gamification.Reward                `yaml:"rewards"`
}

// ProgressionConfig mirrors progression.Config.
type ProgressionConfig struct {
	PointsPerLevel int64       `yaml:"points_per_level"`
	LevelCap       int         `yaml:"level_cap"`
	Tiers          []TierEntry `yaml:"tiers"`
}

// TierEntry is one tier threshold.
type TierEntry struct {
	Name           string `yaml:"name"`
	PointsRequired int64  `yaml:"points_required"`
}

// Default returns the built-in fitness catalog.
func Default() (Catalog, error) {
	return Parse(bytes.NewReader(defaultCatalog))
}

// Load reads path, or the built-in catalog when path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default()
	}
	file, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse decodes and validates a catalog. Unknown fields are rejected.
func Parse(reader io.Reader) (Catalog, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var catalog Catalog
	if err := decoder.Decode(&catalog); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Validate checks every section. An empty progression section falls back to
// progression.Default.
func (catalog Catalog) Validate() error {
	if _, err := catalog.Calculator(); err != nil {
		return fmt.Errorf("catalog progression: %w", err)
	}
	if err := catalog.StreakBonus.Validate(); err != nil {
		return fmt.Errorf("catalog streak bonus: %w", err)
	}
	achievementIDs := make(map[string]struct{}, len(catalog.Achievements))
	for _, definition := range catalog.Achievements {
		if err := definition.Validate(); err != nil {
			return fmt.Errorf("catalog achievement %q: %w", definition.ID, err)
		}
		if _, duplicate := achievementIDs[definition.ID]; duplicate {
			return fmt.Errorf("catalog achievement %q: duplicate id", definition.ID)
		}
		achievementIDs[definition.ID] = struct{}{}
	}
	rewardIDs := make(map[string]struct{}, len(catalog.Rewards))
	for _, reward := range catalog.Rewards {
		if err := reward.Validate(); err != nil {
			return fmt.Errorf("catalog reward %q: %w", reward.ID, err)
		}
		if _, duplicate := rewardIDs[reward.ID]; duplicate {
			return fmt.Errorf("catalog reward %q: duplicate id", reward.ID)
		}
		rewardIDs[reward.ID] = struct{}{}
	}
	return nil
}

// Calculator builds the progression table.
func (catalog Catalog) Calculator() (progression.Calculator, error) {
	if catalog.Progression.PointsPerLevel == 0 && len(catalog.Progression.Tiers) == 0 {
		return progression.Default(), nil
	}
	tiers := make([]progression.Threshold, 0, len(catalog.Progression.Tiers))
	for _, tier := range catalog.Progression.Tiers {
		tiers = append(tiers, progression.Threshold{Name: tier.Name, PointsRequired: tier.PointsRequired})
	}
	return progression.NewCalculator(progression.Config{
		PointsPerLevel: catalog.Progression.PointsPerLevel,
		LevelCap:       catalog.Progression.LevelCap,
		Tiers:          tiers,
	})
}

// CatalogWriter is the subset of gamification.Service used by Apply.
type CatalogWriter interface {
	UpsertAchievement(ctx context.Context, definition gamification.AchievementDefinition) (gamification.AchievementDefinition, error)
	UpsertReward(ctx context.Context, reward gamification.Reward) (gamification.Reward, error)
}

// Apply upserts every achievement and reward.
func (catalog Catalog) Apply(ctx context.Context, writer CatalogWriter) error {
	for _, definition := range catalog.Achievements {
		if _, err := writer.UpsertAchievement(ctx, definition); err != nil {
			return fmt.Errorf("apply achievement %q: %w", definition.ID, err)
		}
	}
	for _, reward := range catalog.Rewards {
		if _, err := writer.UpsertReward(ctx, reward); err != nil {
			return fmt.Errorf("apply reward %q: %w", reward.ID, err)
		}
	}
	return nil
}

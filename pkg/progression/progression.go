package progression

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Configuration errors returned by NewCalculator.
var (
	ErrInvalidPointsPerLevel = errors.New("invalid points per level")
	ErrInvalidLevelCap       = errors.New("invalid level cap")
	ErrInvalidTierTable      = errors.New("invalid tier table")
)

// Threshold is one row of the tier table.
type Threshold struct {
	Name           string
	PointsRequired int64
}

// Standing is the derived progression for a lifetime point total.
type Standing struct {
	Level           int
	Tier            string
	NextLevelPoints int64
	NextTierPoints  int64
	NextTier        string
}

// Config holds the static progression settings.
type Config struct {
	PointsPerLevel int64
	// LevelCap stops level growth when greater than zero.
	LevelCap int
	Tiers    []Threshold
}

// Calculator derives levels and tiers from lifetime earned points.
type Calculator struct {
	pointsPerLevel int64
	levelCap       int
	tiers          []Threshold
}

// NewCalculator validates the config and sorts the tier table ascending.
func NewCalculator(config Config) (Calculator, error) {
	if config.PointsPerLevel <= 0 {
		return Calculator{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPointsPerLevel)
	}
	if config.LevelCap < 0 {
		return Calculator{}, fmt.Errorf("%w: must not be negative", ErrInvalidLevelCap)
	}
	if len(config.Tiers) == 0 {
		return Calculator{}, fmt.Errorf("%w: at least one tier is required", ErrInvalidTierTable)
	}
	tiers := make([]Threshold, len(config.Tiers))
	copy(tiers, config.Tiers)
	sort.SliceStable(tiers, func(left, right int) bool {
		return tiers[left].PointsRequired < tiers[right].PointsRequired
	})
	seen := make(map[string]struct{}, len(tiers))
	for index, tier := range tiers {
		name := strings.TrimSpace(tier.Name)
		if name == "" {
			return Calculator{}, fmt.Errorf("%w: tier %d has no name", ErrInvalidTierTable, index)
		}
		if tier.PointsRequired < 0 {
			return Calculator{}, fmt.Errorf("%w: tier %q requires negative points", ErrInvalidTierTable, name)
		}
		if index > 0 && tier.PointsRequired == tiers[index-1].PointsRequired {
			return Calculator{}, fmt.Errorf("%w: tiers %q and %q share a threshold", ErrInvalidTierTable, tiers[index-1].Name, name)
		}
		if _, duplicate := seen[name]; duplicate {
			return Calculator{}, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTierTable, name)
		}
		seen[name] = struct{}{}
		tiers[index].Name = name
	}
	if tiers[0].PointsRequired != 0 {
		return Calculator{}, fmt.Errorf("%w: lowest tier must start at zero points", ErrInvalidTierTable)
	}
	return Calculator{
		pointsPerLevel: config.PointsPerLevel,
		levelCap:       config.LevelCap,
		tiers:          tiers,
	}, nil
}

// Default returns the calculator used when no catalog overrides it.
func Default() Calculator {
	calculator, err := NewCalculator(Config{
		PointsPerLevel: 500,
		Tiers: []Threshold{
			{Name: "bronze", PointsRequired: 0},
			{Name: "silver", PointsRequired: 2500},
			{Name: "gold", PointsRequired: 10000},
			{Name: "platinum", PointsRequired: 25000},
		},
	})
	if err != nil {
		panic(err)
	}
	return calculator
}

// PointsPerLevel returns the level width.
func (calculator Calculator) PointsPerLevel() int64 {
	return calculator.pointsPerLevel
}

// Tiers returns a copy of the ordered tier table.
func (calculator Calculator) Tiers() []Threshold {
	out := make([]Threshold, len(calculator.tiers))
	copy(out, calculator.tiers)
	return out
}

// Level returns floor(lifetimeEarned / pointsPerLevel), honoring the cap.
func (calculator Calculator) Level(lifetimeEarned int64) int {
	if lifetimeEarned <= 0 || calculator.pointsPerLevel <= 0 {
		return 0
	}
	level := int(lifetimeEarned / calculator.pointsPerLevel)
	if calculator.levelCap > 0 && level > calculator.levelCap {
		return calculator.levelCap
	}
	return level
}

// Derive computes the full standing for lifetimeEarned.
func (calculator Calculator) Derive(lifetimeEarned int64) Standing {
	if lifetimeEarned < 0 {
		lifetimeEarned = 0
	}
	standing := Standing{Level: calculator.Level(lifetimeEarned)}
	if calculator.levelCap == 0 || standing.Level < calculator.levelCap {
		nextLevelAt := int64(standing.Level+1) * calculator.pointsPerLevel
		standing.NextLevelPoints = nextLevelAt - lifetimeEarned
	}
	tierIndex := sort.Search(len(calculator.tiers), func(index int) bool {
		return calculator.tiers[index].PointsRequired > lifetimeEarned
	}) - 1
	if tierIndex < 0 {
		tierIndex = 0
	}
	standing.Tier = calculator.tiers[tierIndex].Name
	if tierIndex+1 < len(calculator.tiers) {
		next := calculator.tiers[tierIndex+1]
		standing.NextTier = next.Name
		standing.NextTierPoints = next.PointsRequired - lifetimeEarned
	}
	return standing
}

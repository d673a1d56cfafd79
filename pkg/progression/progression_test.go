package progression

import (
	"errors"
	"testing"
)

func TestDeriveLevelScenarios(test *testing.T) {
	test.Parallel()
	calculator := Default()
	testCases := []struct {
		name            string
		lifetime        int64
		wantLevel       int
		wantTier        string
		wantNextLevel   int64
		wantNextTierPts int64
	}{
		{name: "zero", lifetime: 0, wantLevel: 0, wantTier: "bronze", wantNextLevel: 500, wantNextTierPts: 2500},
		{name: "just below level ten", lifetime: 4800, wantLevel: 9, wantTier: "silver", wantNextLevel: 200, wantNextTierPts: 5200},
		{name: "exactly level ten", lifetime: 5000, wantLevel: 10, wantTier: "silver", wantNextLevel: 500, wantNextTierPts: 5000},
		{name: "tier boundary", lifetime: 2500, wantLevel: 5, wantTier: "silver", wantNextLevel: 500, wantNextTierPts: 7500},
		{name: "top tier", lifetime: 30000, wantLevel: 60, wantTier: "platinum", wantNextLevel: 500, wantNextTierPts: 0},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			standing := calculator.Derive(testCase.lifetime)
			if standing.Level != testCase.wantLevel {
				test.Fatalf("expected level %d, got %d", testCase.wantLevel, standing.Level)
			}
			if standing.Tier != testCase.wantTier {
				test.Fatalf("expected tier %q, got %q", testCase.wantTier, standing.Tier)
			}
			if standing.NextLevelPoints != testCase.wantNextLevel {
				test.Fatalf("expected %d points to next level, got %d", testCase.wantNextLevel, standing.NextLevelPoints)
			}
			if standing.NextTierPoints != testCase.wantNextTierPts {
				test.Fatalf("expected %d points to next tier, got %d", testCase.wantNextTierPts, standing.NextTierPoints)
			}
		})
	}
}

func TestLevelCapStopsLevelGrowth(test *testing.T) {
	test.Parallel()
	calculator, err := NewCalculator(Config{
		PointsPerLevel: 100,
		LevelCap:       5,
		Tiers:          []Threshold{{Name: "member", PointsRequired: 0}},
	})
	if err != nil {
		test.Fatalf("calculator: %v", err)
	}
	standing := calculator.Derive(10_000)
	if standing.Level != 5 {
		test.Fatalf("expected capped level 5, got %d", standing.Level)
	}
	if standing.NextLevelPoints != 0 {
		test.Fatalf("expected no next level at cap, got %d", standing.NextLevelPoints)
	}
	if standing.Tier != "member" || standing.NextTier != "" {
		test.Fatalf("unexpected tier standing: %+v", standing)
	}
}

func TestNewCalculatorSortsTiers(test *testing.T) {
	test.Parallel()
	calculator, err := NewCalculator(Config{
		PointsPerLevel: 10,
		Tiers: []Threshold{
			{Name: "gold", PointsRequired: 100},
			{Name: "bronze", PointsRequired: 0},
			{Name: "silver", PointsRequired: 50},
		},
	})
	if err != nil {
		test.Fatalf("calculator: %v", err)
	}
	tiers := calculator.Tiers()
	if tiers[0].Name != "bronze" || tiers[1].Name != "silver" || tiers[2].Name != "gold" {
		test.Fatalf("unexpected tier order: %+v", tiers)
	}
	if got := calculator.Derive(75).Tier; got != "silver" {
		test.Fatalf("expected silver, got %q", got)
	}
}

func TestNewCalculatorValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "zero points per level",
			config:  Config{PointsPerLevel: 0, Tiers: []Threshold{{Name: "a", PointsRequired: 0}}},
			wantErr: ErrInvalidPointsPerLevel,
		},
		{
			name:    "negative cap",
			config:  Config{PointsPerLevel: 10, LevelCap: -1, Tiers: []Threshold{{Name: "a", PointsRequired: 0}}},
			wantErr: ErrInvalidLevelCap,
		},
		{
			name:    "empty tiers",
			config:  Config{PointsPerLevel: 10},
			wantErr: ErrInvalidTierTable,
		},
		{
			name:    "no zero tier",
			config:  Config{PointsPerLevel: 10, Tiers: []Threshold{{Name: "a", PointsRequired: 5}}},
			wantErr: ErrInvalidTierTable,
		},
		{
			name:    "shared threshold",
			config:  Config{PointsPerLevel: 10, Tiers: []Threshold{{Name: "a", PointsRequired: 0}, {Name: "b", PointsRequired: 0}}},
			wantErr: ErrInvalidTierTable,
		},
		{
			name:    "blank name",
			config:  Config{PointsPerLevel: 10, Tiers: []Threshold{{Name: " ", PointsRequired: 0}}},
			wantErr: ErrInvalidTierTable,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := NewCalculator(testCase.config)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

package scoring

import (
	"math"
	"testing"

	"github.com/pavelanni/parley/internal/model"
)

func samples(pairs ...any) []model.EmotionSample {
	var out []model.EmotionSample
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.EmotionSample{Emotion: pairs[i].(string), Intensity: pairs[i+1].(float64), Confidence: 1})
	}
	return out
}

func TestEmotionTotals(t *testing.T) {
	totals := EmotionTotals(samples("joy", 0.5, "joy", 0.25, "anxiety", 0.4))
	if math.Abs(totals["joy"]-0.75) > 1e-9 {
		t.Errorf("joy total = %v, want 0.75", totals["joy"])
	}
	if totals["anxiety"] != 0.4 {
		t.Errorf("anxiety total = %v, want 0.4", totals["anxiety"])
	}
	if _, ok := totals["calm"]; ok {
		t.Error("absent tags should not be present")
	}
}

func TestMedalDeltas(t *testing.T) {
	tests := []struct {
		name    string
		samples []model.EmotionSample
		want    map[model.Medal]float64
	}{
		{
			name:    "no emotions only composure",
			samples: nil,
			want:    map[model.Medal]float64{model.MedalComposure: 10},
		},
		{
			name:    "friendliness scaled",
			samples: samples("joy", 1.0, "happiness", 0.5, "contentment", 0.5),
			want:    map[model.Medal]float64{model.MedalFriendliness: 20, model.MedalComposure: 10},
		},
		{
			name:    "composure drops out at 5",
			samples: samples("anxiety", 1.0, "stress", 1.0, "nervousness", 1.0, "anxiety", 1.0, "stress", 1.0),
			want:    map[model.Medal]float64{},
		},
		{
			name:    "charisma scaled",
			samples: samples("confidence", 0.5, "excitement", 0.5),
			want:    map[model.Medal]float64{model.MedalCharisma: 10, model.MedalComposure: 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MedalDeltas(EmotionTotals(tt.samples))
			if len(got) != len(tt.want) {
				t.Fatalf("MedalDeltas() = %v, want %v", got, tt.want)
			}
			for _, d := range got {
				want, ok := tt.want[d.Medal]
				if !ok || math.Abs(d.Progress-want) > 1e-9 {
					t.Errorf("%s progress = %v, want %v", d.Medal, d.Progress, want)
				}
			}
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		progress float64
		want     int
	}{
		{0, 0}, {19.99, 0}, {20, 1}, {39, 1}, {40, 2}, {10, 0}, {105, 5},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.progress); got != tt.want {
			t.Errorf("LevelFor(%v) = %d, want %d", tt.progress, got, tt.want)
		}
	}
}

func TestRollingAverage(t *testing.T) {
	tests := []struct {
		old   float64
		count int
		score int
		want  float64
	}{
		{0, 0, 13, 13},
		{50, 1, 51, 50.5},
		{10, 2, 0, 6.67},
		{20, 3, 40, 25},
	}
	for _, tt := range tests {
		if got := RollingAverage(tt.old, tt.count, tt.score); got != tt.want {
			t.Errorf("RollingAverage(%v, %d, %d) = %v, want %v", tt.old, tt.count, tt.score, got, tt.want)
		}
	}
}

func TestProfileLevel(t *testing.T) {
	if got := ProfileLevel(model.DefaultMedals()); got != 1 {
		t.Errorf("ProfileLevel(default) = %d, want 1", got)
	}
	m := model.DefaultMedals()
	m[model.MedalCharisma] = 2
	m[model.MedalComposure] = 4
	if got := ProfileLevel(m); got != 3 {
		t.Errorf("ProfileLevel = %d, want 3", got)
	}
}

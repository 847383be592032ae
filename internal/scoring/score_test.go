package scoring

import "testing"

func TestNextScore(t *testing.T) {
	tests := []struct {
		name         string
		current      int
		emotion      string
		intensity    float64
		userMessages int
		want         int
	}{
		{"joy first turn", 0, "joy", 0.8, 1, 13},
		{"no emotion", 10, "", 0.9, 2, 20},
		{"unlisted emotion", 10, "surprise", 1, 0, 10},
		{"calm rounds half up", 0, "calm", 0.25, 0, 3},
		{"anxiety subtracts", 20, "anxiety", 0.8, 0, 16},
		{"sadness then bonus", 20, "sadness", 1, 1, 20},
		{"clamped low", 1, "anger", 1, 0, 0},
		{"clamped high", 95, "confidence", 1, 3, 100},
		{"engagement re-added each call", 50, "", 0, 4, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextScore(tt.current, tt.emotion, tt.intensity, tt.userMessages)
			if got != tt.want {
				t.Errorf("NextScore(%d, %q, %v, %d) = %d, want %d",
					tt.current, tt.emotion, tt.intensity, tt.userMessages, got, tt.want)
			}
		})
	}
}

func TestNextScoreAlwaysInRange(t *testing.T) {
	emotions := []string{"", "joy", "anger", "anxiety", "confidence", "boredom"}
	for current := -50; current <= 150; current += 7 {
		for _, e := range emotions {
			for _, in := range []float64{0, 0.33, 0.5, 1} {
				for msgs := 0; msgs < 30; msgs += 4 {
					got := NextScore(current, e, in, msgs)
					if got < MinScore || got > MaxScore {
						t.Fatalf("NextScore(%d, %q, %v, %d) = %d out of range", current, e, in, msgs, got)
					}
				}
			}
		}
	}
}

func TestEmotionSets(t *testing.T) {
	if !IsPositive("joy") || IsPositive("anger") {
		t.Error("positive set mismatch")
	}
	if !IsNegative("nervousness") || IsNegative("calm") {
		t.Error("negative set mismatch")
	}
}

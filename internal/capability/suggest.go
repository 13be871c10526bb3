package capability

import (
	"context"
	"fmt"
	"strings"

	"lifeauto/internal/automation/action"
)

type strategy struct {
	Title       string
	Category    string
	Description string
	Duration    string
}

var copingCatalogue = []strategy{
	{"4-7-8 Breathing Exercise", "Anxiety", "Inhale for 4 counts, hold for 7, exhale for 8. Repeat four times.", "5-10 minutes"},
	{"5-4-3-2-1 Grounding Technique", "Anxiety", "Name 5 things you see, 4 you can touch, 3 you hear, 2 you smell and 1 you taste.", "5 minutes"},
	{"Progressive Muscle Relaxation", "Stress", "Tense each muscle group for five seconds, then release, from feet to face.", "15-20 minutes"},
	{"Mindful Walking", "Mindfulness", "Walk slowly and notice each step, your breath and the sounds around you.", "10-30 minutes"},
	{"Body Scan Meditation", "Mindfulness", "Move your attention slowly from head to toe and notice each sensation.", "10-20 minutes"},
	{"Gratitude Journaling", "Self-Care", "Write down three things you are grateful for today and why.", "5-10 minutes"},
	{"Social Connection Time", "Self-Care", "Reach out to a friend or family member for a short conversation.", "15-60 minutes"},
	{"Creative Expression", "Self-Care", "Draw, write or play music to let emotions out without judging the result.", "20-45 minutes"},
	{"Sleep Hygiene Routine", "Sleep", "Dim the lights, put screens away and keep the same bedtime tonight.", "30 minutes"},
}

func strategiesFor(category string) []strategy {
	if category == "" {
		return copingCatalogue
	}
	var out []strategy
	for _, st := range copingCatalogue {
		if strings.EqualFold(st.Category, category) {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		return copingCatalogue
	}
	return out
}

func (s *Set) suggestCoping(ctx context.Context, inv action.Invocation) error {
	category, _, err := inv.Params.String("category")
	if err != nil {
		return err
	}
	options := strategiesFor(category)
	st := options[pick(inv.DedupKey, len(options))]
	_, err = s.put(ctx, inv, KindCopingStrategy, st.Title, st.Description, map[string]any{
		"category": st.Category,
		"duration": st.Duration,
	})
	return err
}

type moodBand string

const (
	bandLow  moodBand = "low"
	bandMid  moodBand = "mid"
	bandHigh moodBand = "high"
)

// Moods are on a 1..10 scale.
func bandOf(mood float64) moodBand {
	switch {
	case mood <= 3:
		return bandLow
	case mood <= 6:
		return bandMid
	default:
		return bandHigh
	}
}

var activities = map[moodBand]map[string][]string{
	bandLow: {
		"morning":   {"Step outside for ten minutes of daylight", "Make a warm drink and sit by a window"},
		"afternoon": {"Take a short walk around the block", "Call someone you trust"},
		"evening":   {"Take a warm shower and go to bed early", "Listen to calming music for fifteen minutes"},
	},
	bandMid: {
		"morning":   {"Stretch for ten minutes", "Plan one small thing to look forward to today"},
		"afternoon": {"Take a brisk twenty-minute walk", "Tidy one small corner of your space"},
		"evening":   {"Cook a simple meal you enjoy", "Read a few chapters of a book"},
	},
	bandHigh: {
		"morning":   {"Go for a run or a bike ride", "Start the task you have been putting off"},
		"afternoon": {"Learn something new for thirty minutes", "Meet a friend for coffee"},
		"evening":   {"Write down what went well today", "Try a new recipe with someone"},
	},
}

func timeOfDay(hour int) string {
	switch {
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

func (s *Set) suggestActivity(ctx context.Context, inv action.Invocation) error {
	mood, ok, err := inv.Params.Number("mood")
	if err != nil {
		return err
	}
	if !ok {
		// Mood events carry the score that fired the routine.
		if mood, ok, err = inv.Params.Number("score"); err != nil {
			return err
		}
	}
	if !ok {
		mood = 5
	}
	tod, _, _ := inv.Params.String("timeOfDay")
	tod = strings.ToLower(tod)
	if tod == "" {
		tod = timeOfDay(s.now().In(s.loc).Hour())
	}
	options, found := activities[bandOf(mood)][tod]
	if !found {
		return fmt.Errorf("unknown time of day %q", tod)
	}
	choice := options[pick(inv.DedupKey, len(options))]
	_, err = s.put(ctx, inv, KindActivity, "Suggested activity", choice, map[string]any{
		"mood":      mood,
		"band":      string(bandOf(mood)),
		"timeOfDay": tod,
	})
	return err
}

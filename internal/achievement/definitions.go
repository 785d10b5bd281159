package achievement

import "fmt"

// Achievement identifiers.
const (
	BlitzMode     = "blitz-mode"
	SpeedRunner   = "speed-runner"
	EarlyBird     = "early-bird"
	NightOwl      = "night-owl"
	Streak3       = "streak-3"
	Perfectionist = "perfectionist"
	Verbose       = "verbose"
	SpeedReader   = "speed-reader"
	Revisionist   = "revisionist"
)

// FirstDay and LastDay bound the preview curriculum.
const (
	FirstDay = 0
	LastDay  = 7
)

// DayComplete returns the achievement ID for finishing day n.
func DayComplete(n int) string {
	return fmt.Sprintf("day-%d-complete", n)
}

// Definition describes one badge. Secret definitions must be redacted on read
// paths until unlocked.
type Definition struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	IsSecret    bool   `json:"isSecret"`
	XPReward    int    `json:"xpReward"`
}

// Redacted hides presentation fields of a secret definition.
func (d Definition) Redacted() Definition {
	if !d.IsSecret {
		return d
	}
	return Definition{ID: d.ID, Title: "???", Description: "Keep exploring to discover this one.", Icon: "lock", IsSecret: true}
}

var dayTitles = [...]string{
	"Orientation", "Idea", "Research", "Scope", "Prototype", "Feedback", "Polish", "Launch",
}

// catalog is ordered; Check reports IDs in this order.
var catalog = buildCatalog()

var byID = func() map[string]Definition {
	m := make(map[string]Definition, len(catalog))
	for _, d := range catalog {
		m[d.ID] = d
	}
	return m
}()

func buildCatalog() []Definition {
	defs := make([]Definition, 0, LastDay+1+9)
	for n := FirstDay; n <= LastDay; n++ {
		defs = append(defs, Definition{
			ID:          DayComplete(n),
			Title:       fmt.Sprintf("Day %d: %s", n, dayTitles[n]),
			Description: fmt.Sprintf("Complete day %d of the preview.", n),
			Icon:        "calendar-check",
			XPReward:    20,
		})
	}
	return append(defs,
		Definition{ID: BlitzMode, Title: "Blitz Mode", Description: "Reach day 2 within 12 hours of starting.", Icon: "zap", XPReward: 50},
		Definition{ID: SpeedRunner, Title: "Speed Runner", Description: "Finish day 7 within 12 hours of starting.", Icon: "rocket", XPReward: 100},
		Definition{ID: EarlyBird, Title: "Early Bird", Description: "Complete a day before 8 AM.", Icon: "sunrise", XPReward: 25},
		Definition{ID: NightOwl, Title: "Night Owl", Description: "Complete a day after 10 PM.", Icon: "moon", XPReward: 25},
		Definition{ID: Streak3, Title: "On a Roll", Description: "Complete three consecutive days.", Icon: "flame", XPReward: 50},
		Definition{ID: Perfectionist, Title: "Perfectionist", Description: "Finish every checklist on each completed day.", Icon: "target", XPReward: 75},
		Definition{ID: Verbose, Title: "Wordsmith", Description: "Write 250 words describing what you want to build.", Icon: "feather", IsSecret: true, XPReward: 30},
		Definition{ID: SpeedReader, Title: "Speed Reader", Description: "Reach the bottom of a day in under 30 seconds.", Icon: "eye", IsSecret: true, XPReward: 30},
		Definition{ID: Revisionist, Title: "Revisionist", Description: "Go back and edit an answer.", Icon: "pencil", IsSecret: true, XPReward: 30},
	)
}

// Definitions returns the full catalog in display order.
func Definitions() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the definition for id.
func Lookup(id string) (Definition, bool) {
	d, ok := byID[id]
	return d, ok
}

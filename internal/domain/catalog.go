package domain

import (
	"fmt"
	"sort"

	"github.com/gosimple/slug"
)

// UnlockModuleComplete is the only supported unlock condition type.
const UnlockModuleComplete = "module_complete"

// UnlockCondition gates a locked module behind another module's completion.
type UnlockCondition struct {
	Type       string `json:"type" yaml:"type"`
	TargetSlug string `json:"targetSlug" yaml:"targetSlug"`
}

// Lesson is a unit of content inside a module.
type Lesson struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	XPReward int    `json:"xpReward,omitempty" yaml:"xpReward,omitempty"`
}

// Module is a graded unit containing lessons and an optional quiz.
type Module struct {
	ID              string           `json:"id" yaml:"id"`
	Slug            string           `json:"slug" yaml:"slug"`
	Title           string           `json:"title" yaml:"title"`
	Order           int              `json:"order" yaml:"order"`
	XPReward        int              `json:"xpReward" yaml:"xpReward"`
	Locked          bool             `json:"locked" yaml:"locked"`
	UnlockCondition *UnlockCondition `json:"unlockCondition,omitempty" yaml:"unlockCondition,omitempty"`
	Lessons         []Lesson         `json:"lessons" yaml:"lessons"`
	Questions       []Question       `json:"questions,omitempty" yaml:"questions,omitempty"`
}

// HasQuiz reports whether the module is gated by a quiz.
func (m Module) HasQuiz() bool {
	return len(m.Questions) > 0
}

// Lesson looks up a lesson by ID.
func (m Module) Lesson(id string) (Lesson, bool) {
	for _, l := range m.Lessons {
		if l.ID == id {
			return l, true
		}
	}
	return Lesson{}, false
}

// ChecklistItem is one entry of a preview day's checklist.
type ChecklistItem struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Day is an ungated preview day.
type Day struct {
	Number int             `json:"number" yaml:"number"`
	Title  string          `json:"title" yaml:"title"`
	Items  []ChecklistItem `json:"items" yaml:"items"`
}

// HasItem reports whether itemID belongs to the day.
func (d Day) HasItem(itemID string) bool {
	for _, it := range d.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// Ordered returns the given item IDs in catalog order, dropping unknown IDs.
func (d Day) Ordered(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, it := range d.Items {
		if _, ok := ids[it.ID]; ok {
			out = append(out, it.ID)
		}
	}
	return out
}

// Catalog is the read-only, externally versioned content configuration.
type Catalog struct {
	Version string   `json:"version" yaml:"version"`
	Modules []Module `json:"modules" yaml:"modules"`
	Days    []Day    `json:"days" yaml:"days"`

	modules   map[string]int
	slugs     map[string]int
	questions map[string]questionRef
	days      map[int]int
}

type questionRef struct {
	module   int
	question int
}

// Normalize derives missing slugs, sorts modules and days, validates uniqueness and
// builds lookup indexes. It must be called after decoding.
func (c *Catalog) Normalize() error {
	c.modules = make(map[string]int, len(c.Modules))
	c.slugs = make(map[string]int, len(c.Modules))
	c.questions = make(map[string]questionRef)
	c.days = make(map[int]int, len(c.Days))

	sort.SliceStable(c.Modules, func(i, j int) bool { return c.Modules[i].Order < c.Modules[j].Order })
	sort.SliceStable(c.Days, func(i, j int) bool { return c.Days[i].Number < c.Days[j].Number })

	for i := range c.Modules {
		m := &c.Modules[i]
		if m.ID == "" {
			return fmt.Errorf("catalog: module %d has no id", i)
		}
		if m.Slug == "" {
			m.Slug = slug.Make(m.Title)
		}
		if m.Slug == "" {
			m.Slug = slug.Make(m.ID)
		}
		if _, dup := c.modules[m.ID]; dup {
			return fmt.Errorf("catalog: duplicate module id %q", m.ID)
		}
		if _, dup := c.slugs[m.Slug]; dup {
			return fmt.Errorf("catalog: duplicate module slug %q", m.Slug)
		}
		c.modules[m.ID] = i
		c.slugs[m.Slug] = i

		if m.UnlockCondition != nil && m.UnlockCondition.Type != UnlockModuleComplete {
			return fmt.Errorf("catalog: module %q has unsupported unlock condition %q", m.ID, m.UnlockCondition.Type)
		}
		for j := range m.Questions {
			q := &m.Questions[j]
			if _, dup := c.questions[q.ID]; dup {
				return fmt.Errorf("catalog: duplicate question id %q", q.ID)
			}
			if q.Type == "" {
				q.Type = QuestionMultipleChoice
			}
			switch q.Type {
			case QuestionTrueFalse:
				if q.CorrectAnswer != "true" && q.CorrectAnswer != "false" {
					return fmt.Errorf("catalog: question %q needs correctAnswer true or false", q.ID)
				}
			case QuestionMultipleChoice, QuestionScenario:
				if q.CorrectID() == "" {
					return fmt.Errorf("catalog: question %q has no correct option", q.ID)
				}
			default:
				return fmt.Errorf("catalog: question %q has unknown type %q", q.ID, q.Type)
			}
			c.questions[q.ID] = questionRef{module: i, question: j}
		}
	}
	for i, d := range c.Days {
		if _, dup := c.days[d.Number]; dup {
			return fmt.Errorf("catalog: duplicate day %d", d.Number)
		}
		c.days[d.Number] = i
	}
	return nil
}

// Module looks up a module by ID.
func (c *Catalog) Module(id string) (Module, error) {
	if i, ok := c.modules[id]; ok {
		return c.Modules[i], nil
	}
	return Module{}, ErrModuleNotFound
}

// ModuleBySlug looks up a module by slug.
func (c *Catalog) ModuleBySlug(s string) (Module, error) {
	if i, ok := c.slugs[s]; ok {
		return c.Modules[i], nil
	}
	return Module{}, ErrModuleNotFound
}

// Question looks up a question and its owning module.
func (c *Catalog) Question(id string) (Module, Question, error) {
	ref, ok := c.questions[id]
	if !ok {
		return Module{}, Question{}, ErrQuestionNotFound
	}
	m := c.Modules[ref.module]
	return m, m.Questions[ref.question], nil
}

// Day looks up a preview day by number.
func (c *Catalog) Day(n int) (Day, error) {
	if i, ok := c.days[n]; ok {
		return c.Days[i], nil
	}
	return Day{}, ErrDayNotFound
}

// TotalLessons counts lessons across every module.
func (c *Catalog) TotalLessons() int {
	total := 0
	for _, m := range c.Modules {
		total += len(m.Lessons)
	}
	return total
}

// Dependents returns locked modules whose unlock condition targets the slug.
func (c *Catalog) Dependents(completedSlug string) []Module {
	var out []Module
	for _, m := range c.Modules {
		if !m.Locked || m.UnlockCondition == nil {
			continue
		}
		if m.UnlockCondition.Type == UnlockModuleComplete && m.UnlockCondition.TargetSlug == completedSlug {
			out = append(out, m)
		}
	}
	return out
}

// OpenModules returns modules accessible by default once enrolled.
func (c *Catalog) OpenModules() []Module {
	var out []Module
	for _, m := range c.Modules {
		if !m.Locked {
			out = append(out, m)
		}
	}
	return out
}

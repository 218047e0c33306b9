package escalation

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/paranoiabot/reminderd/internal/models"
	"gopkg.in/yaml.v3"
)

// Step is one escalation attempt in a level's plan: fire at Offset after the
// reminder became due, across Channels.
type Step struct {
	Offset     time.Duration    `yaml:"offset"`
	Channels   []models.Channel `yaml:"channels"`
	RequireAck bool             `yaml:"require_ack"`
}

// Plan is the ordered attempt schedule for one paranoia level.
type Plan []Step

// Policy maps paranoia levels to their escalation plans. The zero value is
// unusable; construct with NewPolicy or LoadPolicy.
type Policy struct {
	plans map[int]Plan
}

// NewPolicy returns the default policy. The cadence mirrors the original
// product: first notice at due time, repeats at 30s steps, widening to SMS
// and voice on the top offsets of the paranoid levels.
func NewPolicy() *Policy {
	chat := []models.Channel{models.ChannelChat}
	chatSMS := []models.Channel{models.ChannelChat, models.ChannelSMS}
	all := []models.Channel{models.ChannelChat, models.ChannelSMS, models.ChannelVoice}

	return &Policy{plans: map[int]Plan{
		0: {
			{Offset: 0, Channels: chat},
		},
		1: {
			{Offset: 0, Channels: chat},
			{Offset: 30 * time.Second, Channels: chat},
		},
		2: {
			{Offset: 0, Channels: chat},
			{Offset: 30 * time.Second, Channels: chat},
			{Offset: 60 * time.Second, Channels: chat},
		},
		3: {
			{Offset: 0, Channels: chat, RequireAck: true},
			{Offset: 30 * time.Second, Channels: chat, RequireAck: true},
			{Offset: 60 * time.Second, Channels: chat, RequireAck: true},
			{Offset: 120 * time.Second, Channels: chatSMS, RequireAck: true},
		},
		4: {
			{Offset: 0, Channels: chat, RequireAck: true},
			{Offset: 30 * time.Second, Channels: chat, RequireAck: true},
			{Offset: 60 * time.Second, Channels: chat, RequireAck: true},
			{Offset: 120 * time.Second, Channels: chatSMS, RequireAck: true},
			{Offset: 180 * time.Second, Channels: chatSMS, RequireAck: true},
		},
		5: {
			{Offset: 0, Channels: chat, RequireAck: true},
			{Offset: 30 * time.Second, Channels: chat, RequireAck: true},
			{Offset: 60 * time.Second, Channels: chatSMS, RequireAck: true},
			{Offset: 90 * time.Second, Channels: chatSMS, RequireAck: true},
			{Offset: 120 * time.Second, Channels: all, RequireAck: true},
			{Offset: 180 * time.Second, Channels: all, RequireAck: true},
		},
	}}
}

// Plan returns the attempt schedule for a paranoia level. Out-of-range
// levels clamp to the nearest valid level.
func (p *Policy) Plan(level int) Plan {
	return p.plans[models.ClampParanoia(level)]
}

// AttemptsDue returns the ordered attempts that should fire now given how
// long the reminder has been due and how many attempts were already sent.
// Attempts whose index is below alreadySent are never re-emitted, so a coarse
// tick cadence catches up without duplicating dispatches.
func (p *Policy) AttemptsDue(level int, elapsedSinceDue time.Duration, alreadySent int) []Step {
	plan := p.Plan(level)
	if alreadySent < 0 {
		alreadySent = 0
	}
	if alreadySent >= len(plan) {
		return nil
	}

	var due []Step
	for i := alreadySent; i < len(plan); i++ {
		if plan[i].Offset > elapsedSinceDue {
			break
		}
		due = append(due, plan[i])
	}
	return due
}

// Exhausted reports whether every attempt of the level's plan was sent.
func (p *Policy) Exhausted(level, alreadySent int) bool {
	return alreadySent >= len(p.Plan(level))
}

// planFile is the YAML shape of an escalation plan override file:
//
//	levels:
//	  5:
//	    - offset: 0s
//	      channels: [chat]
//	      require_ack: true
type planFile struct {
	Levels map[int][]stepFile `yaml:"levels"`
}

type stepFile struct {
	Offset     string   `yaml:"offset"`
	Channels   []string `yaml:"channels"`
	RequireAck bool     `yaml:"require_ack"`
}

// LoadPolicy reads a YAML override file and merges it over the defaults.
// Levels absent from the file keep their default plans.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read escalation plan file: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse escalation plan file: %w", err)
	}

	policy := NewPolicy()
	for level, steps := range pf.Levels {
		if level < models.MinParanoiaLevel || level > models.MaxParanoiaLevel {
			return nil, fmt.Errorf("escalation plan level %d out of range", level)
		}
		plan, err := buildPlan(steps)
		if err != nil {
			return nil, fmt.Errorf("escalation plan level %d: %w", level, err)
		}
		policy.plans[level] = plan
	}

	if err := policy.validateMonotonic(); err != nil {
		return nil, err
	}
	return policy, nil
}

func buildPlan(steps []stepFile) (Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan must have at least one step")
	}
	plan := make(Plan, 0, len(steps))
	for i, s := range steps {
		offset, err := time.ParseDuration(s.Offset)
		if err != nil {
			return nil, fmt.Errorf("step %d: invalid offset %q: %w", i, s.Offset, err)
		}
		if offset < 0 {
			return nil, fmt.Errorf("step %d: negative offset", i)
		}
		if len(s.Channels) == 0 {
			return nil, fmt.Errorf("step %d: no channels", i)
		}
		channels := make([]models.Channel, 0, len(s.Channels))
		for _, c := range s.Channels {
			switch ch := models.Channel(c); ch {
			case models.ChannelChat, models.ChannelSMS, models.ChannelVoice:
				channels = append(channels, ch)
			default:
				return nil, fmt.Errorf("step %d: unknown channel %q", i, c)
			}
		}
		plan = append(plan, Step{Offset: offset, Channels: channels, RequireAck: s.RequireAck})
	}
	sort.SliceStable(plan, func(a, b int) bool { return plan[a].Offset < plan[b].Offset })
	return plan, nil
}

// validateMonotonic rejects plans where a higher paranoia level would notify
// less than a lower one at some elapsed time.
func (p *Policy) validateMonotonic() error {
	for level := models.MinParanoiaLevel; level < models.MaxParanoiaLevel; level++ {
		lower, higher := p.plans[level], p.plans[level+1]
		for _, step := range lower {
			if countDueAt(higher, step.Offset) < countDueAt(lower, step.Offset) {
				return fmt.Errorf("escalation plan for level %d notifies less than level %d at offset %v",
					level+1, level, step.Offset)
			}
		}
	}
	return nil
}

func countDueAt(plan Plan, elapsed time.Duration) int {
	n := 0
	for _, s := range plan {
		if s.Offset <= elapsed {
			n++
		}
	}
	return n
}

// MarshalYAML renders the policy in the override-file format so the
// configure CLI can print the effective plans.
func (p *Policy) MarshalYAML() (any, error) {
	out := planFile{Levels: make(map[int][]stepFile, len(p.plans))}
	for level, plan := range p.plans {
		steps := make([]stepFile, 0, len(plan))
		for _, s := range plan {
			channels := make([]string, 0, len(s.Channels))
			for _, c := range s.Channels {
				channels = append(channels, string(c))
			}
			steps = append(steps, stepFile{
				Offset:     s.Offset.String(),
				Channels:   channels,
				RequireAck: s.RequireAck,
			})
		}
		out.Levels[level] = steps
	}
	return out, nil
}

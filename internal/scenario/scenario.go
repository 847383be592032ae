// Package scenario holds the catalog of branching dialogue scripts used by
// practice sessions.
package scenario

import (
	"maps"
	"slices"
	"time"
)

// Condition describes when a node's phrasing is most apt. It is advisory:
// traversal never enforces it.
type Condition struct {
	RequiredEmotion string   `yaml:"emotion,omitempty" json:"emotion,omitempty"`
	MinIntensity    float64  `yaml:"min_intensity,omitempty" json:"min_intensity,omitempty"`
	Context         []string `yaml:"context,omitempty" json:"context,omitempty"`
}

// Matches reports whether the given emotion reading satisfies the condition.
// A nil condition always matches.
func (c *Condition) Matches(emotion string, intensity float64) bool {
	if c == nil {
		return true
	}
	if c.RequiredEmotion != "" && c.RequiredEmotion != emotion {
		return false
	}
	return intensity >= c.MinIntensity
}

// Response is a candidate line the user may say at a node.
type Response struct {
	ID             string `yaml:"id" json:"id"`
	Content        string `yaml:"content" json:"content"`
	NextNodeID     string `yaml:"next,omitempty" json:"next_node_id,omitempty"`
	ScoreModifier  int    `yaml:"score_modifier,omitempty" json:"score_modifier,omitempty"`
	EmotionTrigger string `yaml:"emotion_trigger,omitempty" json:"emotion_trigger,omitempty"`
}

// Terminal reports whether choosing this response ends the dialogue.
func (r Response) Terminal() bool {
	return r.NextNodeID == ""
}

// Node is one line of the conversation partner plus the candidate replies.
type Node struct {
	ID         string     `yaml:"id" json:"id"`
	Content    string     `yaml:"content" json:"content"`
	Conditions *Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Responses  []Response `yaml:"responses" json:"responses"`
}

// SuccessConditions define what counts as a successful run of a scenario.
type SuccessConditions struct {
	MinScore         int      `yaml:"min_score" json:"min_score"`
	RequiredEmotions []string `yaml:"required_emotions" json:"required_emotions"`
	MaxDurationMS    int64    `yaml:"max_duration_ms,omitempty" json:"max_duration_ms,omitempty"`
}

// MaxDuration returns the soft time limit, or zero when none is set.
func (s SuccessConditions) MaxDuration() time.Duration {
	return time.Duration(s.MaxDurationMS) * time.Millisecond
}

// Objectives are the goals shown to the user before a session.
type Objectives struct {
	Primary string   `yaml:"primary" json:"primary"`
	Bonus   []string `yaml:"bonus,omitempty" json:"bonus,omitempty"`
}

// Display is the presentation projection of a script.
type Display struct {
	Icon             string     `yaml:"icon,omitempty" json:"icon,omitempty"`
	Gradient         []string   `yaml:"gradient,omitempty" json:"gradient,omitempty"`
	AvatarURL        string     `yaml:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Difficulty       string     `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	Mode             string     `yaml:"mode,omitempty" json:"mode,omitempty"`
	Background       string     `yaml:"background,omitempty" json:"background,omitempty"`
	Objectives       Objectives `yaml:"objectives" json:"objectives"`
	SuccessBehaviors []string   `yaml:"success_behaviors,omitempty" json:"success_behaviors,omitempty"`
	FailureBehaviors []string   `yaml:"failure_behaviors,omitempty" json:"failure_behaviors,omitempty"`
}

// Script is a branching dialogue template.
type Script struct {
	ID          string            `yaml:"id" json:"id"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	OpeningNode string            `yaml:"opening_node" json:"opening_node"`
	Nodes       map[string]Node   `yaml:"nodes" json:"nodes"`
	Success     SuccessConditions `yaml:"success" json:"success_conditions"`
	Display     Display           `yaml:"display" json:"display"`
}

// Clone returns a deep copy of s that shares no maps or slices with it.
func (s Script) Clone() Script {
	s.Nodes = maps.Clone(s.Nodes)
	for id, n := range s.Nodes {
		n.Responses = slices.Clone(n.Responses)
		if n.Conditions != nil {
			c := *n.Conditions
			c.Context = slices.Clone(c.Context)
			n.Conditions = &c
		}
		s.Nodes[id] = n
	}
	s.Success.RequiredEmotions = slices.Clone(s.Success.RequiredEmotions)
	d := &s.Display
	d.Gradient = slices.Clone(d.Gradient)
	d.Objectives.Bonus = slices.Clone(d.Objectives.Bonus)
	d.SuccessBehaviors = slices.Clone(d.SuccessBehaviors)
	d.FailureBehaviors = slices.Clone(d.FailureBehaviors)
	return s
}

// Opening returns the node the conversation starts at.
func (s *Script) Opening() Node {
	return s.Nodes[s.OpeningNode]
}

// Node returns the node with the given id.
func (s *Script) Node(id string) (Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// Next follows responseID out of nodeID. It returns false when either id is
// unknown or the response is terminal.
func (s *Script) Next(nodeID, responseID string) (Node, bool) {
	n, ok := s.Nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	for _, r := range n.Responses {
		if r.ID != responseID {
			continue
		}
		if r.Terminal() {
			return Node{}, false
		}
		return s.Node(r.NextNodeID)
	}
	return Node{}, false
}

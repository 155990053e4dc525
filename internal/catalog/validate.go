package catalog

import (
	"fmt"

	"multiverse-server/internal/models"
)

// DefectCode вид авторской ошибки в графе истории.
type DefectCode string

const (
	DefectMissingStart       DefectCode = "missing_start"
	DefectDuplicateNode      DefectCode = "duplicate_node"
	DefectDuplicateChoice    DefectCode = "duplicate_choice"
	DefectDuplicateCharacter DefectCode = "duplicate_character"
	DefectDanglingTarget     DefectCode = "dangling_target"
	DefectUnknownCharacter   DefectCode = "unknown_character"
	DefectNoVisibleChoices   DefectCode = "no_visible_choices"
	DefectTooManyPlayers     DefectCode = "max_players_exceeds_characters"
	DefectUnreachableNode    DefectCode = "unreachable_node"
)

// Defect нарушение инварианта графа. NodeKey пуст для ошибок уровня истории.
type Defect struct {
	Code    DefectCode
	NodeKey string
	Message string
}

func (d Defect) String() string {
	if d.NodeKey == "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", d.Code, d.NodeKey, d.Message)
}

// Check проверяет инварианты, которые не выражаются JSON-схемой.
func (d *Document) Check() []Defect {
	var defects []Defect
	add := func(code DefectCode, nodeKey, format string, args ...interface{}) {
		defects = append(defects, Defect{Code: code, NodeKey: nodeKey, Message: fmt.Sprintf(format, args...)})
	}

	characters := make(map[string]bool, len(d.Characters))
	for _, ch := range d.Characters {
		if characters[ch.Name] {
			add(DefectDuplicateCharacter, "", "character %q is declared twice", ch.Name)
		}
		characters[ch.Name] = true
	}
	if d.MaxPlayers > len(d.Characters) {
		add(DefectTooManyPlayers, "", "max_players %d exceeds %d characters", d.MaxPlayers, len(d.Characters))
	}

	nodes := make(map[string]*NodeDocument, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if _, dup := nodes[n.Key]; dup {
			add(DefectDuplicateNode, n.Key, "node key is declared twice")
			continue
		}
		nodes[n.Key] = n
	}
	start, hasStart := nodes[models.StartNodeKey]
	if !hasStart {
		add(DefectMissingStart, "", "story has no %q node", models.StartNodeKey)
	}

	for i := range d.Nodes {
		n := &d.Nodes[i]
		seen := make(map[string]bool, len(n.Choices))
		for _, c := range n.Choices {
			if seen[c.Key] {
				add(DefectDuplicateChoice, n.Key, "choice %q is declared twice", c.Key)
			}
			seen[c.Key] = true
			if _, ok := nodes[c.TargetNodeKey]; !ok {
				add(DefectDanglingTarget, n.Key, "choice %q points to unknown node %q", c.Key, c.TargetNodeKey)
			}
			for _, name := range c.RestrictedTo {
				if !characters[name] {
					add(DefectUnknownCharacter, n.Key, "choice %q is restricted to unknown character %q", c.Key, name)
				}
			}
		}
		if n.Ending {
			continue
		}
		for _, ch := range d.Characters {
			visible := false
			for _, c := range n.Choices {
				if c.VisibleTo(ch.Name) {
					visible = true
					break
				}
			}
			if !visible {
				add(DefectNoVisibleChoices, n.Key, "character %q has no visible choice", ch.Name)
			}
		}
	}

	if hasStart {
		reached := map[string]bool{start.Key: true}
		queue := []*NodeDocument{start}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, c := range n.Choices {
				next, ok := nodes[c.TargetNodeKey]
				if ok && !reached[next.Key] {
					reached[next.Key] = true
					queue = append(queue, next)
				}
			}
		}
		for _, n := range d.Nodes {
			if !reached[n.Key] {
				add(DefectUnreachableNode, n.Key, "node is not reachable from %q", models.StartNodeKey)
				reached[n.Key] = true
			}
		}
	}
	return defects
}

package tui

import (
	"fmt"
	"sort"
	"strings"
)

type topologyLine struct {
	Text   string
	Level  int
	Cost   float64
	Flags  int
	Detail string
}

// viewTopology renders the provider > account > region > resource tree.
func (m Model) viewTopology() string {
	s := strings.Builder{}

	header := fmt.Sprintf("   %-56s | %-10s | %s", "TOPOLOGY (Provider -> Account -> Region -> Resource)", "MONTHLY", "INFO")
	s.WriteString(subtle.Render(header) + "\n")
	s.WriteString(subtle.Render("   "+strings.Repeat("─", 80)) + "\n")

	if len(m.topology) == 0 {
		if m.scanning() {
			return fmt.Sprintf("\n\n   %s Building topology...", m.spinner.View())
		}
		return "\n\n   " + subtle.Render("No resources discovered.")
	}

	start, end := window(m.topologyCursor, len(m.topology), m.height-10)
	for i := start; i < end; i++ {
		line := m.topology[i]
		text := truncate(strings.Repeat("  ", line.Level)+line.Text, 56)
		info := line.Detail
		if line.Flags > 0 {
			info = warning.Render(fmt.Sprintf("%d recommendation(s)", line.Flags)) + " " + info
		}
		row := fmt.Sprintf(" %-56s | %-10s | %s", text, fmt.Sprintf("$%.2f", line.Cost), info)
		if i == m.topologyCursor {
			s.WriteString(listSelectedStyle.Render(">"+row) + "\n")
		} else {
			s.WriteString(listNormalStyle.Render(" "+row) + "\n")
		}
	}
	return s.String()
}

func (m *Model) buildTopology() {
	cost := map[string]float64{}
	for _, li := range m.result.CostLineItems {
		cost[li.ResourceID] += li.Amount
	}
	flags := map[string]int{}
	for _, rec := range m.recs {
		for _, id := range rec.ResourceIDs {
			flags[id]++
		}
	}

	type node struct {
		line     topologyLine
		children map[string]*node
	}
	root := &node{children: map[string]*node{}}
	child := func(n *node, key string, level int) *node {
		c, ok := n.children[key]
		if !ok {
			c = &node{line: topologyLine{Text: key, Level: level}, children: map[string]*node{}}
			n.children[key] = c
		}
		return c
	}

	for _, res := range m.resources {
		path := []*node{}
		p := child(root, res.Provider, 0)
		a := child(p, res.AccountID, 1)
		r := child(a, res.Region, 2)
		path = append(path, p, a, r)

		name := res.NativeID
		if res.Name != "" && res.Name != res.NativeID {
			name += " (" + res.Name + ")"
		}
		leaf := child(r, res.ID, 3)
		leaf.line.Text = name
		leaf.line.Detail = strings.TrimSpace(res.SKU + " " + res.State)
		leaf.line.Cost = cost[res.ID]
		leaf.line.Flags = flags[res.ID]
		for _, n := range path {
			n.line.Cost += leaf.line.Cost
			n.line.Flags += leaf.line.Flags
		}
	}

	var lines []topologyLine
	var walk func(n *node)
	walk = func(n *node) {
		keys := make([]string, 0, len(n.children))
		for k := range n.children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c := n.children[k]
			lines = append(lines, c.line)
			walk(c)
		}
	}
	walk(root)
	m.topology = lines
}

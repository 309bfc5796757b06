package tui

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// headerItem is a non-selectable group separator in the picker list.
type headerItem struct {
	label string
}

func (h headerItem) FilterValue() string { return "" }
func (h headerItem) Title() string       { return h.label }
func (h headerItem) Description() string { return "" }

// groupKey returns the grouping key for a forward: the owning session,
// else its label, else "manual".
func groupKey(fwd port.PortForward) string {
	if fwd.Owner == port.OwnerSession {
		return "session " + shortID(fwd.SessionID)
	}
	if fwd.Label != "" {
		return fwd.Label
	}
	return "manual"
}

// buildGroupedItems groups forwards and returns list items with headerItem
// separators. Groups are sorted by name, forwards keep their order. locked
// may be nil.
func buildGroupedItems(fwds []port.PortForward, locked func(port.PortForward) bool) []list.Item {
	if len(fwds) == 0 {
		return nil
	}

	type group struct {
		key  string
		fwds []port.PortForward
	}
	groupMap := make(map[string]*group)
	for _, fwd := range fwds {
		key := groupKey(fwd)
		g, ok := groupMap[key]
		if !ok {
			g = &group{key: key}
			groupMap[key] = g
		}
		g.fwds = append(g.fwds, fwd)
	}

	groups := make([]*group, 0, len(groupMap))
	for _, g := range groupMap {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].key < groups[j].key
	})

	var items []list.Item
	for _, g := range groups {
		items = append(items, headerItem{label: g.key})
		for _, fwd := range g.fwds {
			items = append(items, forwardItem{
				fwd:    fwd,
				locked: locked != nil && locked(fwd),
			})
		}
	}

	return items
}

// headerStyle is the style for group header items.
var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("241")).
	PaddingLeft(2)

// groupedDelegate renders both headerItem and forwardItem in the picker list.
type groupedDelegate struct {
	inner list.DefaultDelegate
}

func newGroupedDelegate() groupedDelegate {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedStyle
	delegate.Styles.SelectedDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	return groupedDelegate{inner: delegate}
}

func (d groupedDelegate) Height() int                             { return d.inner.Height() }
func (d groupedDelegate) Spacing() int                            { return d.inner.Spacing() }
func (d groupedDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d groupedDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	if h, ok := item.(headerItem); ok {
		fmt.Fprint(w, headerStyle.Render(h.label))
		return
	}

	d.inner.Render(w, m, index, item)
}

// skipHeaders adjusts the cursor position to skip headerItem entries.
// direction should be 1 (down) or -1 (up).
func skipHeaders(l *list.Model, direction int) {
	items := l.Items()
	if len(items) == 0 {
		return
	}

	idx := l.Index()
	if _, ok := items[idx].(headerItem); !ok {
		return
	}

	// Try to move in the given direction first
	next := idx + direction
	if next >= 0 && next < len(items) {
		if _, ok := items[next].(headerItem); !ok {
			l.Select(next)
			return
		}
	}

	// Fall back to the opposite direction
	opposite := idx - direction
	if opposite >= 0 && opposite < len(items) {
		if _, ok := items[opposite].(headerItem); !ok {
			l.Select(opposite)
			return
		}
	}

	for i := 0; i < len(items); i++ {
		candidate := (idx + i*direction + len(items)) % len(items)
		if _, ok := items[candidate].(headerItem); !ok {
			l.Select(candidate)
			return
		}
	}
}

// navigationDirection returns 1 for down/j keys, -1 for up/k keys.
func navigationDirection(msg tea.KeyMsg) int {
	switch msg.String() {
	case "up", "k":
		return -1
	default:
		return 1
	}
}

// headerCount returns the number of headerItems in items.
func headerCount(items []list.Item) int {
	count := 0
	for _, item := range items {
		if _, ok := item.(headerItem); ok {
			count++
		}
	}
	return count
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// Action represents the action to take after picker selection
type Action int

const (
	ActionNone Action = iota
	ActionRemove
	ActionQuit
)

// PickerResult holds the result of the picker
type PickerResult struct {
	Action   Action
	Forwards []port.PortForward
}

// forwardItem implements list.Item for forward display
type forwardItem struct {
	fwd    port.PortForward
	locked bool
	marked bool
}

func (i forwardItem) Title() string {
	box := "[ ]"
	switch {
	case i.locked:
		box = "[-]"
	case i.marked:
		box = "[x]"
	}
	return fmt.Sprintf("%s %s", box, i.fwd.HostAddr())
}

func (i forwardItem) Description() string {
	desc := fmt.Sprintf("-> %d/%s | %s", i.fwd.TargetPort, i.fwd.Protocol, i.fwd.Owner)
	if i.fwd.Label != "" {
		desc += " | " + i.fwd.Label
	}
	if i.locked {
		desc += " | held by live session"
	}
	return desc
}

func (i forwardItem) FilterValue() string {
	return fmt.Sprintf("%d %s", i.fwd.HostPort, i.fwd.Label)
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// Model is the bubbletea model for the forward picker
type Model struct {
	list     list.Model
	result   PickerResult
	quitting bool
	width    int
	height   int
}

// NewPicker creates a forward picker. Forwards for which locked returns
// true are shown but cannot be picked.
func NewPicker(fwds []port.PortForward, locked func(port.PortForward) bool) Model {
	items := buildGroupedItems(fwds, locked)

	l := list.New(items, newGroupedDelegate(), 80, 20)
	l.Title = "berth - Remove Forwards"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	skipHeaders(&l, 1)

	return Model{list: l}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		// Don't handle keys if filtering
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case " ", "x":
			m.toggle(m.list.Index())
			return m, nil

		case "a":
			for i := range m.list.Items() {
				if item, ok := m.list.Items()[i].(forwardItem); ok && !item.locked && !item.marked {
					m.toggle(i)
				}
			}
			return m, nil

		case "enter":
			picked := m.marked()
			if len(picked) == 0 {
				if item, ok := m.list.SelectedItem().(forwardItem); ok && !item.locked {
					picked = []port.PortForward{item.fwd}
				}
			}
			if len(picked) == 0 {
				return m, nil
			}
			m.result = PickerResult{Action: ActionRemove, Forwards: picked}
			m.quitting = true
			return m, tea.Quit

		case "q", "esc":
			m.result = PickerResult{Action: ActionQuit}
			m.quitting = true
			return m, tea.Quit

		case "up", "down", "k", "j":
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			skipHeaders(&m.list, navigationDirection(msg))
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) toggle(index int) {
	items := m.list.Items()
	if index < 0 || index >= len(items) {
		return
	}
	item, ok := items[index].(forwardItem)
	if !ok || item.locked {
		return
	}
	item.marked = !item.marked
	m.list.SetItem(index, item)
}

func (m Model) marked() []port.PortForward {
	var out []port.PortForward
	for _, it := range m.list.Items() {
		if item, ok := it.(forwardItem); ok && item.marked {
			out = append(out, item.fwd)
		}
	}
	return out
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	help := helpStyle.Render("[space] Mark  [a] Mark all  [enter] Remove  [/] Filter  [q] Quit")

	return m.list.View() + "\n" + help
}

// Result returns the picker result
func (m Model) Result() PickerResult {
	return m.result
}

// RunPicker runs the interactive forward picker
func RunPicker(fwds []port.PortForward, locked func(port.PortForward) bool) (PickerResult, error) {
	if len(fwds) == 0 {
		return PickerResult{Action: ActionQuit}, nil
	}

	m := NewPicker(fwds, locked)
	p := tea.NewProgram(m, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return PickerResult{}, err
	}

	return finalModel.(Model).Result(), nil
}

// Summary renders the picked forwards as one line per forward.
func Summary(fwds []port.PortForward) string {
	var sb strings.Builder
	for _, fwd := range fwds {
		sb.WriteString(fmt.Sprintf("  %s\n", fwd))
	}
	return sb.String()
}

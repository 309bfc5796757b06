// Package tui provides terminal user interface components for berth.
//
// This package uses the Bubble Tea framework for the forward picker shown
// by `berth port rm` when it runs on a terminal without arguments.
//
// # Forward Picker
//
//	result, err := tui.RunPicker(forwards, isLocked)
//	switch result.Action {
//	case tui.ActionRemove:
//	    // Remove result.Forwards
//	case tui.ActionQuit:
//	    // Nothing picked
//	}
//
// Forwards are grouped by owner: manual forwards, auto forwards from
// `port watch`, and one group per session. Forwards held by a live
// session are listed but cannot be picked.
//
// Keys: j/k or arrows move (headers are skipped), space marks, a marks
// everything, enter removes the marked forwards (or the one under the
// cursor), / filters, q quits.
//
// # Dependencies
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - UI components
//   - github.com/charmbracelet/lipgloss - Styling
package tui

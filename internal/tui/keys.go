package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Toggle    key.Binding
	Grow      key.Binding
	Shrink    key.Binding
	RollUp    key.Binding
	RollDown  key.Binding
	MaxUp     key.Binding
	MaxDown   key.Binding
	MinUp     key.Binding
	MinDown   key.Binding
	AutoRange key.Binding
	Help      key.Binding
	Quit      key.Binding
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Grow, k.Shrink, k.AutoRange, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.AutoRange, k.Help, k.Quit},
		{k.Grow, k.Shrink, k.RollUp, k.RollDown},
		{k.MaxUp, k.MaxDown, k.MinUp, k.MinDown},
	}
}

var keys = keyMap{
	Toggle: key.NewBinding(
		key.WithKeys("s", " "),
		key.WithHelp("s/space", "start/stop"),
	),
	Grow: key.NewBinding(
		key.WithKeys("+", "="),
		key.WithHelp("+", "wider window"),
	),
	Shrink: key.NewBinding(
		key.WithKeys("-", "_"),
		key.WithHelp("-", "narrower window"),
	),
	RollUp: key.NewBinding(
		key.WithKeys("]"),
		key.WithHelp("]", "more smoothing"),
	),
	RollDown: key.NewBinding(
		key.WithKeys("["),
		key.WithHelp("[", "less smoothing"),
	),
	MaxUp: key.NewBinding(
		key.WithKeys("X"),
		key.WithHelp("X", "raise max"),
	),
	MaxDown: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "lower max"),
	),
	MinUp: key.NewBinding(
		key.WithKeys("N"),
		key.WithHelp("N", "raise min"),
	),
	MinDown: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "lower min"),
	),
	AutoRange: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "auto range"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

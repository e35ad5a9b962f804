package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/rendermill/pkg/backend"
)

// List styles
var (
	listDimStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	tableHeadStyle  = lipgloss.NewStyle().Foreground(colorLabel).Bold(true)
	tableBorderLine = lipgloss.NewStyle().Foreground(colorMuted)
)

// Status icons
const (
	iconSuccess = "✓"
	iconError   = "✗"
)

// backendRow is one backend as shown by the backends command and the picker.
type backendRow struct {
	Kind      backend.Kind `json:"kind"`
	Available bool         `json:"available"`
	Detail    string       `json:"detail,omitempty"`
}

func (r backendRow) status() string {
	if r.Available {
		return iconSuccess + " ready"
	}
	return iconError + " unavailable"
}

// backendTable renders rows as a bordered table. cursor < 0 highlights nothing.
func backendTable(rows []backendRow, cursor int) string {
	cells := make([][]string, 0, len(rows))
	for i, r := range rows {
		mark := "  "
		if i == cursor {
			mark = "▸ "
		}
		cells = append(cells, []string{mark, string(r.Kind), r.status(), r.Detail})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderLine).
		Headers("", "Backend", "Status", "Detail").
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return tableHeadStyle
			}
			if row < 0 || row >= len(rows) {
				return lipgloss.NewStyle()
			}
			r := rows[row]
			base := lipgloss.NewStyle()
			if col == 3 {
				base = base.Foreground(colorLabel)
			}
			switch {
			case !r.Available:
				base = base.Foreground(colorMuted)
			case col == 2:
				base = base.Foreground(colorOK)
			}
			if row == cursor {
				base = base.Bold(true)
				if r.Available && col != 3 {
					base = base.Foreground(colorAccent)
				}
			}
			return base
		}).
		Render()
}

// =============================================================================
// BackendPickerModel - Interactive backend selection
// =============================================================================

// BackendPickerModel is the bubbletea model for choosing the backend of a
// single render. Unavailable backends are listed but cannot be chosen.
type BackendPickerModel struct {
	Rows     []backendRow
	Cursor   int
	Selected backend.Kind
}

// NewBackendPickerModel starts with the cursor on the first usable backend.
func NewBackendPickerModel(rows []backendRow) BackendPickerModel {
	m := BackendPickerModel{Rows: rows}
	for i, r := range rows {
		if r.Available {
			m.Cursor = i
			break
		}
	}
	return m
}

func (m BackendPickerModel) Init() tea.Cmd {
	return nil
}

func (m BackendPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.Cursor > 0 {
			m.Cursor--
		}
	case "down", "j":
		if m.Cursor < len(m.Rows)-1 {
			m.Cursor++
		}
	case "enter":
		if len(m.Rows) == 0 || !m.Rows[m.Cursor].Available {
			return m, nil
		}
		m.Selected = m.Rows[m.Cursor].Kind
		return m, tea.Quit
	}
	return m, nil
}

func (m BackendPickerModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Select Backend"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")
	b.WriteString(backendTable(m.Rows, m.Cursor))
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Rows))))

	return b.String()
}

// pickBackend runs the picker and returns the chosen kind, or "" when the
// user quit without choosing.
func pickBackend(rows []backendRow) (backend.Kind, error) {
	final, err := tea.NewProgram(NewBackendPickerModel(rows)).Run()
	if err != nil {
		return "", err
	}
	return final.(BackendPickerModel).Selected, nil
}

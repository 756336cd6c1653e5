package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"vpsrenew/internal/recognize"
	"vpsrenew/internal/rendezvous"
)

// =============================================================================
// ANSWER COMMAND
// =============================================================================

var answerCmd = &cobra.Command{
	Use:   "answer [code]",
	Short: "Answer a pending interactive challenge",
	Long: `Delivers a six digit code to a run waiting in the rendezvous
directory. Without an argument, the pending challenge is shown and the
code is read from an interactive prompt.

Examples:
  vpsrenew answer 369218
  vpsrenew answer`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnswer,
}

func runAnswer(cmd *cobra.Command, args []string) error {
	mb := newMailbox(cfg)

	var code string
	if len(args) == 1 {
		code = strings.TrimSpace(args[0])
	} else {
		pending, err := rendezvous.LatestRequest(mb.Dir)
		if err != nil && !errors.Is(err, rendezvous.ErrNoPendingRequest) {
			return err
		}
		if pending == nil {
			fmt.Println("No pending challenge. Enter a code anyway to pre-deliver it.")
		} else {
			fmt.Print(renderInstructions(pending))
		}

		final, err := tea.NewProgram(newAnswerModel()).Run()
		if err != nil {
			return fmt.Errorf("prompt failed: %w", err)
		}
		m := final.(answerModel)
		if m.canceled {
			return errors.New("canceled")
		}
		code = m.value
	}

	if err := recognize.ValidateCode(code); err != nil {
		return err
	}
	if err := rendezvous.Deliver(mb.AnswerPath(), code); err != nil {
		return err
	}
	fmt.Printf("Delivered %s to %s\n", code, mb.AnswerPath())
	return nil
}

func renderInstructions(p *rendezvous.PendingRequest) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return p.Instructions
	}
	out, err := r.Render(p.Instructions)
	if err != nil {
		return p.Instructions
	}
	return out
}

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// answerModel is a one-line prompt that only accepts a valid code.
type answerModel struct {
	input    textinput.Model
	err      error
	value    string
	canceled bool
}

func newAnswerModel() answerModel {
	ti := textinput.New()
	ti.Placeholder = "123456"
	ti.CharLimit = 16
	ti.Width = 20
	ti.Focus()
	return answerModel{input: ti}
}

func (m answerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m answerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		case tea.KeyEnter:
			v := strings.TrimSpace(m.input.Value())
			if err := recognize.ValidateCode(v); err != nil {
				m.err = err
				return m, nil
			}
			m.value = v
			return m, tea.Quit
		}
		m.err = nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m answerModel) View() string {
	var sb strings.Builder
	sb.WriteString(promptStyle.Render("Code: "))
	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(mutedStyle.Render("Enter: deliver • Esc: cancel"))
	sb.WriteString("\n")
	return sb.String()
}

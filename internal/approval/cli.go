package approval

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

// DecideREPL is the interactive `subagentd approvals decide` shell: it
// lists pending requests and lets an operator resolve them one at a time,
// routed through gate.Decide so CLI decisions serialize with HTTP ones.
type DecideREPL struct {
	gate  *Gate
	actor string
	rl    *readline.Instance
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".subagent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "approvals_history")
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/list"),
		readline.PcItem("/grant"),
		readline.PcItem("/deny"),
		readline.PcItem("/quit"),
		readline.PcItem("/help"),
	)
}

// NewDecideREPL builds the shell for actor (the operator's identity,
// recorded as decision_actor on every resolved request).
func NewDecideREPL(gate *Gate, actor string) (*DecideREPL, error) {
	prompt := color.New(color.FgCyan).Sprint("approvals> ")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyPath(),
		HistoryLimit:      500,
		AutoComplete:      completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("approval: create readline: %w", err)
	}
	return &DecideREPL{gate: gate, actor: actor, rl: rl}, nil
}

// Run drives the shell until the operator quits (/quit, Ctrl+D) or an
// unrecoverable readline error occurs.
func (d *DecideREPL) Run() error {
	defer d.rl.Close()
	d.printHelp()

	for {
		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := d.dispatch(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("error:"), err)
		}
	}
}

func (d *DecideREPL) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return io.EOF
	case "/help":
		d.printHelp()
	case "/list":
		d.printPending()
	case "/grant":
		return d.decide(fields, true)
	case "/deny":
		return d.decide(fields, false)
	default:
		fmt.Println("unrecognized command, try /help")
	}
	return nil
}

func (d *DecideREPL) decide(fields []string, approve bool) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s <approval_id> [reason...]", fields[0])
	}
	id := fields[1]
	reason := strings.Join(fields[2:], " ")

	resolved, err := d.gate.Decide(id, approve, d.actor, reason)
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s -> %s\n", green("decided"), resolved.ApprovalID, resolved.Status)
	return nil
}

func (d *DecideREPL) printPending() {
	pending := d.gate.Pending()
	if len(pending) == 0 {
		fmt.Println("no approvals awaiting a decision")
		return
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, r := range pending {
		fmt.Printf("%s  %-8s %-20s risk=%.2f target=%s\n", yellow(r.ApprovalID), r.Operation, r.Tool, r.RiskScore, r.Target)
		for _, reason := range r.Reasons {
			fmt.Printf("    - %s\n", reason)
		}
	}
}

func (d *DecideREPL) printHelp() {
	fmt.Println("commands: /list, /grant <id> [reason], /deny <id> [reason], /quit")
}

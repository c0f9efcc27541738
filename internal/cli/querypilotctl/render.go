package querypilotctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

type sessionView struct {
	ID       string `json:"id"`
	Dialect  string `json:"dialect"`
	State    string `json:"state"`
	Question string `json:"question"`
	SQL      string `json:"sql"`
	Answer   string `json:"answer"`
	NoAnswer bool   `json:"no_answer"`
	Error    *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Columns  []string `json:"columns"`
		Rows     [][]any  `json:"rows"`
		RowCount int      `json:"row_count"`
	} `json:"result"`
}

// renderTable formats a session response for terminals. Bodies that are not
// a single session fall back to JSON output.
func renderTable(body []byte) (string, bool) {
	var view sessionView
	if err := json.Unmarshal(body, &view); err != nil || view.ID == "" || view.State == "" {
		return "", false
	}

	label := pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s, %s)\n", label.Sprint("session"), view.ID, view.Dialect, view.State)
	if view.Question != "" {
		fmt.Fprintf(&b, "%s %s\n", label.Sprint("question"), view.Question)
	}
	if view.SQL != "" {
		fmt.Fprintf(&b, "%s %s\n", label.Sprint("sql"), view.SQL)
	}
	if view.Error != nil {
		fmt.Fprintf(&b, "%s %s: %s\n", pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("error"), view.Error.Kind, view.Error.Message)
	}
	if view.Result != nil {
		if len(view.Result.Columns) > 0 {
			data := make(pterm.TableData, 0, len(view.Result.Rows)+1)
			data = append(data, view.Result.Columns)
			for _, row := range view.Result.Rows {
				cells := make([]string, len(row))
				for i, value := range row {
					cells[i] = formatCell(value)
				}
				data = append(data, cells)
			}
			rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err == nil {
				b.WriteString(rendered)
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "%d row(s)\n", view.Result.RowCount)
	}
	if view.Answer != "" {
		fmt.Fprintf(&b, "%s %s\n", pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprint("answer"), view.Answer)
	}
	return b.String(), true
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

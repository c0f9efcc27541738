package query

import (
	"fmt"
	"strings"
	"time"
)

// Summary renders the schema as pseudo-DDL followed by a block of sample
// rows per table. This is the table_info text the generation prompt embeds.
func (s Schema) Summary() string {
	if len(s.Tables) == 0 {
		return "(no tables found)"
	}
	var sb strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		writeTable(&sb, s.Dialect, table)
	}
	return sb.String()
}

func writeTable(sb *strings.Builder, dialect Dialect, table Table) {
	fmt.Fprintf(sb, "CREATE TABLE %s (\n", QuoteIdent(dialect, table.Name))
	for i, col := range table.Columns {
		fmt.Fprintf(sb, "\t%s %s", QuoteIdent(dialect, col.Name), strings.ToUpper(col.Type))
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if col.PrimaryKey {
			sb.WriteString(" PRIMARY KEY")
		}
		if i < len(table.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	if len(table.SampleColumns) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n\n/*\n%d rows from %s table:\n", len(table.SampleRows), table.Name)
	sb.WriteString(strings.Join(table.SampleColumns, "\t"))
	sb.WriteString("\n")
	for _, row := range table.SampleRows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = FormatValue(value)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteString("\n")
	}
	sb.WriteString("*/")
}

func QuoteIdent(dialect Dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// FormatValue renders a scanned scalar for prompts, CSV and terminals.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	case string:
		return typed
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// NormalizeRow converts driver values into JSON-friendly scalars.
func NormalizeRow(values []any) []any {
	row := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			row[i] = string(typed)
		case time.Time:
			row[i] = typed.Format(time.RFC3339Nano)
		default:
			row[i] = typed
		}
	}
	return row
}

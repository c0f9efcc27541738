package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/querypilot/querypilot/internal/query"
)

// WriteCSV streams the header followed by one record per row. NULL is
// written as an empty field.
func WriteCSV(w io.Writer, result query.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for rowIndex, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = query.FormatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", rowIndex, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

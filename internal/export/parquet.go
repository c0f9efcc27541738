package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/query"
)

// Cell is one value of a result set in long format. Value is nil for SQL
// NULL.
type Cell struct {
	RowIndex    int64   `parquet:"row_index"`
	ColumnIndex int32   `parquet:"column_index"`
	ColumnName  string  `parquet:"column_name"`
	Value       *string `parquet:"value,optional"`
}

// columnsMetadataKey holds the JSON encoded column names so the header of a
// result without rows survives the round trip.
const columnsMetadataKey = "querypilot.columns"

type ParquetEncodeResult struct {
	Data      []byte
	RowCount  int64
	CellCount int64
}

// EncodeParquet writes result as one Parquet row per cell so result sets of
// any shape share a single file schema.
func EncodeParquet(result query.Result) (ParquetEncodeResult, error) {
	if len(result.Columns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("result has no columns")
	}

	cells := make([]Cell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		if len(row) != len(result.Columns) {
			return ParquetEncodeResult{}, fmt.Errorf("row %d has %d values, want %d", rowIndex, len(row), len(result.Columns))
		}
		for columnIndex, value := range row {
			cell := Cell{
				RowIndex:    int64(rowIndex),
				ColumnIndex: int32(columnIndex),
				ColumnName:  result.Columns[columnIndex],
			}
			if value != nil {
				formatted := query.FormatValue(value)
				cell.Value = &formatted
			}
			cells = append(cells, cell)
		}
	}

	header, err := json.Marshal(result.Columns)
	if err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("encode column names: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Cell](buf, parquet.KeyValueMetadata(columnsMetadataKey, string(header)))
	if _, err := writer.Write(cells); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:      buf.Bytes(),
		RowCount:  int64(len(result.Rows)),
		CellCount: int64(len(cells)),
	}, nil
}

// DecodeParquet reads a long-format export back into a result set.
func DecodeParquet(data []byte) (query.Result, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return query.Result{}, fmt.Errorf("open parquet file: %w", err)
	}
	cells, err := parquet.Read[Cell](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return query.Result{}, fmt.Errorf("read parquet rows: %w", err)
	}

	var result query.Result
	if header, ok := file.Lookup(columnsMetadataKey); ok {
		if err := json.Unmarshal([]byte(header), &result.Columns); err != nil {
			return query.Result{}, fmt.Errorf("decode column names: %w", err)
		}
	}
	for _, cell := range cells {
		for int(cell.ColumnIndex) >= len(result.Columns) {
			result.Columns = append(result.Columns, "")
		}
		result.Columns[cell.ColumnIndex] = cell.ColumnName
		for int(cell.RowIndex) >= len(result.Rows) {
			result.Rows = append(result.Rows, nil)
		}
		row := result.Rows[cell.RowIndex]
		for int(cell.ColumnIndex) >= len(row) {
			row = append(row, nil)
		}
		if cell.Value != nil {
			row[cell.ColumnIndex] = *cell.Value
		}
		result.Rows[cell.RowIndex] = row
	}
	return result, nil
}

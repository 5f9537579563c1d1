package backup

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"

	"github.com/ylv-consulting/landops/internal/backup/domain"
	"github.com/ylv-consulting/landops/internal/source"
)

// SerializeCSV encodes records as CSV in the declared field order. The header
// is "record_id" followed by the declared fields; rows keep input order. The
// output is deterministic: the same records and field order always produce
// byte-identical CSV, so checksums are comparable across runs.
//
// A record missing a declared field fails the whole table with
// domain.ErrSchemaMismatch rather than writing a hole.
func SerializeCSV(records []source.Record, fields []string) ([]byte, string, error) {
	if len(fields) == 0 {
		return nil, "", fmt.Errorf("declared field order is empty")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(fields)+1)
	header = append(header, "record_id")
	header = append(header, fields...)
	if err := w.Write(header); err != nil {
		return nil, "", fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(fields)+1)
	for _, rec := range records {
		row[0] = rec.ID
		for i, field := range fields {
			value, ok := rec.Fields[field]
			if !ok {
				return nil, "", fmt.Errorf("%w: record %q field %q", domain.ErrSchemaMismatch, rec.ID, field)
			}
			row[i+1] = formatValue(value)
		}
		if err := w.Write(row); err != nil {
			return nil, "", fmt.Errorf("failed to write row for record %q: %w", rec.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to flush csv: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

// formatValue renders a record field value for CSV. JSON numbers arrive as
// float64; render integral values without the trailing ".0" the default
// formatting would add, so exports stay stable against type jitter.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

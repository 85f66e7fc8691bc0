package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// LoadCSV reads a CSV with a header row. Empty cells are rejected, as are
// cells that do not parse as floats.
func LoadCSV(r io.Reader, target string) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.ErrEmptyData
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	header = append([]string(nil), header...)
	ti, err := targetIndex(header, target)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(header)-1)
	for i, h := range header {
		if i != ti {
			names = append(names, strings.TrimSpace(h))
		}
	}

	var features, labels []float64
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read csv row %d", row)
		}
		for j, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, errors.NewValidationError(
					fmt.Sprintf("row %d column %q", row, header[j]), "not a number", cell)
			}
			if j == ti {
				labels = append(labels, v)
			} else {
				features = append(features, v)
			}
		}
	}
	return newFrame(names, target, features, labels)
}

// WriteCSV writes the frame with the target as the last column.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), f.FeatureNames...), f.Target)); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	n, p := f.Dims()
	rec := make([]string, p+1)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			rec[j] = strconv.FormatFloat(f.X.At(i, j), 'g', -1, 64)
		}
		rec[p] = strconv.FormatFloat(f.Y.AtVec(i), 'g', -1, 64)
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

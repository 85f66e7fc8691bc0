package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

const parquetParallelism = 4

// LoadParquet reads every leaf column of a Parquet file as float64.
// Numeric, boolean and numeric-string columns are accepted; nulls are not.
func LoadParquet(path, target string) (*Frame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open parquet %s", path)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parquetParallelism)
	if err != nil {
		return nil, errors.Wrapf(err, "read parquet footer %s", path)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n == 0 {
		return nil, errors.ErrEmptyData
	}

	var (
		header  []string
		columns [][]float64
	)
	for _, inPath := range pr.SchemaHandler.ValueColumns {
		exPath, ok := pr.SchemaHandler.InPathToExPath[inPath]
		if !ok {
			exPath = inPath
		}
		name := exPath[strings.LastIndex(exPath, "\x01")+1:]

		values, _, _, err := pr.ReadColumnByPath(inPath, int64(n))
		if err != nil {
			return nil, errors.Wrapf(err, "read parquet column %s", name)
		}
		if len(values) != n {
			return nil, errors.NewDimensionError("LoadParquet", n, len(values), 0)
		}
		col := make([]float64, n)
		for i, v := range values {
			f, err := toFloat(v)
			if err != nil {
				return nil, errors.NewValidationError(fmt.Sprintf("row %d column %q", i+1, name), err.Error(), v)
			}
			col[i] = f
		}
		header = append(header, name)
		columns = append(columns, col)
	}

	ti, err := targetIndex(header, target)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(header)-1)
	for j, h := range header {
		if j != ti {
			names = append(names, h)
		}
	}

	features := make([]float64, 0, n*len(names))
	for i := 0; i < n; i++ {
		for j := range columns {
			if j != ti {
				features = append(features, columns[j][i])
			}
		}
	}
	return newFrame(names, target, features, columns[ti])
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, errors.Newf("unsupported type %T", v)
	}
}

// WriteParquet writes the frame as DOUBLE columns with the target last.
// Column names must not contain ',' or '='.
func WriteParquet(w io.Writer, f *Frame) error {
	pfw := writerfile.NewWriterFile(w)
	defer pfw.Close()

	cols := append(append([]string(nil), f.FeatureNames...), f.Target)
	pw, err := writer.NewJSONWriter(parquetSchema(cols), pfw, parquetParallelism)
	if err != nil {
		return errors.Wrap(err, "create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	n, p := f.Dims()
	row := make(map[string]float64, len(cols))
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			row[cols[j]] = f.X.At(i, j)
		}
		row[f.Target] = f.Y.AtVec(i)
		b, err := json.Marshal(row)
		if err != nil {
			return errors.Wrap(err, "encode parquet row")
		}
		if err := pw.Write(string(b)); err != nil {
			_ = pw.WriteStop()
			return errors.Wrapf(err, "write parquet row %d", i)
		}
	}
	return errors.Wrap(pw.WriteStop(), "finish parquet file")
}

func parquetSchema(cols []string) string {
	fields := make([]map[string]string, 0, len(cols))
	for _, c := range cols {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=REQUIRED", c),
		})
	}
	b, _ := json.Marshal(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	return string(b)
}

package cmd

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// readCSV loads a numeric CSV file. With withTarget the last column is
// returned separately as an N x 1 matrix.
func readCSV(path string, header, withTarget bool) (*mat.Dense, *mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open data")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	r.Comment = '#'

	var data []float64
	rows, cols := 0, 0
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read %s", path)
		}
		if header && line == 1 {
			continue
		}
		cols = len(record)
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "%s line %d column %d", path, line, i+1)
			}
			data = append(data, v)
		}
		rows++
	}
	if rows == 0 {
		return nil, nil, errors.Wrapf(errors.ErrEmptyData, "%s has no data rows", path)
	}

	all := mat.NewDense(rows, cols, data)
	if !withTarget {
		return all, nil, nil
	}
	if cols < 2 {
		return nil, nil, errors.NewValueError("readCSV", "need at least one feature column and a target column")
	}
	x := mat.DenseCopyOf(all.Slice(0, rows, 0, cols-1))
	y := mat.DenseCopyOf(all.Slice(0, rows, cols-1, cols))
	return x, y, nil
}

// writeCSV writes m one row per line.
func writeCSV(w io.Writer, m mat.Matrix) error {
	rows, cols := m.Dims()
	cw := csv.NewWriter(w)
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "write csv")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// writeAndClose writes m to wc and closes it. A failed close is reported,
// since buffered writes may only surface there.
func writeAndClose(wc io.WriteCloser, m mat.Matrix) (err error) {
	defer func() {
		if cerr := wc.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close output")
		}
	}()
	return writeCSV(wc, m)
}

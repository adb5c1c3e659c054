// Package record persists generated waveforms: the single column CSV files
// imported by the AWG and a parquet export that keeps the time axis.
package record

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Header is the single column name expected by the instrument importer
const Header = "Y1"

var ErrMissingHeader = errors.New("record: missing Y1 header")

// WriteCSV writes the header followed by one value per row using the
// shortest representation that round-trips to the same float64.
func WriteCSV(w io.Writer, values []float64) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := cw.Write([]string{Header}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, 1)
	for i, v := range values {
		row[0] = strconv.FormatFloat(v, 'g', -1, 64)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return bw.Flush()
}

// ReadCSV parses a file written by WriteCSV
func ReadCSV(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = 1
	cr.ReuseRecord = true

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")) != Header {
		return nil, fmt.Errorf("%w: got '%s'", ErrMissingHeader, rec[0])
	}

	var values []float64
	for line := 2; ; line++ {
		rec, err = cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse line %d: %w", line, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// SaveCSV writes values into dir/name, creating dir when needed, and
// returns the full path of the file
func SaveCSV(dir, name string, values []float64) (path string, err error) {
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory '%s': %w", dir, err)
	}

	path = filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create '%s': %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close '%s': %w", path, cerr)
		}
	}()

	if err = WriteCSV(f, values); err != nil {
		return "", fmt.Errorf("write '%s': %w", path, err)
	}
	return path, nil
}

// LoadCSV reads a waveform file from disk
func LoadCSV(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open '%s': %w", path, err)
	}
	defer f.Close()

	values, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", path, err)
	}
	return values, nil
}

package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/segmentio/parquet-go"

	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

// MetadataKey holds the JSON encoded PointInfo in the parquet footer
const MetadataKey = "awg.point"

// Sample is one row of the parquet export
type Sample struct {
	Index  int64   `parquet:"index"`
	TimeNs float64 `parquet:"time_ns"`
	Value  float64 `parquet:"value"`
}

// PointInfo describes the sweep point a parquet file belongs to
type PointInfo struct {
	RunID           string  `json:"runId"`
	Channel         int     `json:"channel"`
	Kind            string  `json:"kind"`
	Label           string  `json:"label"`
	SweepValue      float64 `json:"sweepValue"`
	SamplingRateGHz float64 `json:"samplingRateGHz"`
}

// WriteParquet writes the sampled waveform with info stored as footer metadata
func WriteParquet(w io.Writer, s waveform.Sampled, info PointInfo) error {
	meta, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	pw := parquet.NewGenericWriter[Sample](w,
		parquet.KeyValueMetadata(MetadataKey, string(meta)),
	)

	rows := make([]Sample, s.Len())
	for i := range rows {
		rows[i] = Sample{Index: int64(i), Value: s.Values[i]}
		if i < len(s.Time) {
			rows[i].TimeNs = s.Time[i] * 1e9
		}
	}

	if _, err = pw.Write(rows); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err = pw.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ReadParquet reads back a file written by WriteParquet
func ReadParquet(r io.ReaderAt, size int64) (waveform.Sampled, PointInfo, error) {
	var info PointInfo

	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return waveform.Sampled{}, info, fmt.Errorf("open parquet: %w", err)
	}
	if raw, ok := f.Lookup(MetadataKey); ok {
		if err = json.Unmarshal([]byte(raw), &info); err != nil {
			return waveform.Sampled{}, info, fmt.Errorf("decode metadata: %w", err)
		}
	}

	pr := parquet.NewGenericReader[Sample](r)
	defer pr.Close()

	rows := make([]Sample, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return waveform.Sampled{}, info, fmt.Errorf("read rows: %w", err)
	}
	rows = rows[:n]

	s := waveform.Sampled{
		Time:   make([]float64, n),
		Values: make([]float64, n),
	}
	for i, row := range rows {
		s.Time[i] = row.TimeNs / 1e9
		s.Values[i] = row.Value
	}
	return s, info, nil
}

// SaveParquet writes the waveform into path
func SaveParquet(path string, s waveform.Sampled, info PointInfo) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create '%s': %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close '%s': %w", path, cerr)
		}
	}()

	return WriteParquet(f, s, info)
}

// LoadParquet reads a parquet export from disk
func LoadParquet(path string) (waveform.Sampled, PointInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return waveform.Sampled{}, PointInfo{}, fmt.Errorf("open '%s': %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return waveform.Sampled{}, PointInfo{}, fmt.Errorf("stat '%s': %w", path, err)
	}
	return ReadParquet(f, st.Size())
}

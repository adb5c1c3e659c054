package record

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const folderTimeLayout = "20060102_1504"

// ChannelFolder names the run folder of a channel sweep, e.g. channel_1_20240131_0915
func ChannelFolder(channel int, at time.Time) string {
	return fmt.Sprintf("channel_%d_%s", channel, at.Format(folderTimeLayout))
}

// CombinedFolder names the run folder of a combined waveform
func CombinedFolder(at time.Time) string {
	return "combined_" + at.Format(folderTimeLayout)
}

// FileName names the waveform file of one sweep point, e.g. sine_003.csv
func FileName(kind string, index int) string {
	return fmt.Sprintf("%s_%03d.csv", strings.ToLower(kind), index)
}

// RemotePath joins the instrument side base directory, run folder and file
// name with forward slashes as expected by the AWG importer
func RemotePath(base, folder, file string) string {
	base = strings.ReplaceAll(base, `\`, "/")
	return path.Join(base, folder, file)
}

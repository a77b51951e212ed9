package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perfStatOutput = `
 Performance counter stats for './build/project_hw':

     4,204,917,698      cycles
     9,370,804,431      instructions              #    2.23  insn per cycle
         1,482,377      cache-misses              #   12.47 % of all cache refs
        11,886,032      cache-references

       1.236774001 seconds time elapsed

       1.190824000 seconds user
       0.044030000 seconds sys
`

func TestParsePerfStat(t *testing.T) {
	data := parsePerfStat(perfStatOutput)
	require.NotNil(t, data)
	assert.Equal(t, "perf", data.Tool)
	assert.Equal(t, "1.236774001s", data.ElapsedTime)
	assert.Equal(t, "unavailable", data.MemoryPeak)
	assert.Equal(t, "12.47%", data.Counters["cache_miss_rate"])
	assert.Equal(t, "9,370,804,431", data.Counters["instructions"])
	assert.Empty(t, data.Samples)
}

func TestParsePerfStatEmptyOutput(t *testing.T) {
	data := parsePerfStat("")
	require.NotNil(t, data)
	assert.Equal(t, "unavailable", data.ElapsedTime)
	assert.Equal(t, "unavailable", data.MemoryPeak)
	assert.Empty(t, data.Counters)
}

const timeVOutput = `
	Command being timed: "./build/project_hw -i dataset/input1.txt"
	User time (seconds): 2.31
	System time (seconds): 0.12
	Percent of CPU this job got: 97%
	Elapsed (wall clock) time (h:mm:ss or m:ss): 0:02.50
	Average shared text size (kbytes): 0
	Maximum resident set size (kbytes): 524288
	Major (requiring I/O) page faults: 3
	Minor (reclaiming a frame) page faults: 131072
	Voluntary context switches: 18
	Involuntary context switches: 204
	Swaps: 0
	File system inputs: 1024
	File system outputs: 2048
	Exit status: 0
`

func TestParseTimeV(t *testing.T) {
	data := parseTimeV(timeVOutput)
	require.NotNil(t, data)
	assert.Equal(t, "time", data.Tool)
	assert.Equal(t, "0:02.50", data.ElapsedTime)
	assert.Equal(t, "512 MB", data.MemoryPeak)
	assert.Equal(t, "2.31", data.Counters["user_time_s"])
	assert.Equal(t, "0.12", data.Counters["system_time_s"])
	assert.Equal(t, "97%", data.Counters["cpu_percent"])
	assert.Equal(t, "18", data.Counters["voluntary_ctx_switches"])
	assert.Equal(t, "204", data.Counters["involuntary_ctx_switches"])
	assert.Equal(t, "3", data.Counters["major_page_faults"])
	assert.Equal(t, "131072", data.Counters["minor_page_faults"])
	assert.Equal(t, "1024", data.Counters["fs_inputs"])
	assert.Equal(t, "2048", data.Counters["fs_outputs"])

	pct, ok := data.CPUPercent()
	require.True(t, ok)
	assert.InDelta(t, 97.0, pct, 0.001)
}

func TestParseTimeVSmallRSSStaysKB(t *testing.T) {
	data := parseTimeV("Maximum resident set size (kbytes): 800\n")
	assert.Equal(t, "800 KB", data.MemoryPeak)
}

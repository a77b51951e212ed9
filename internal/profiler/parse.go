package profiler

import (
	"fmt"
	"regexp"
	"strconv"

	"perflens/internal/types"
)

// The value shown for any field the tool output did not yield.
const unavailable = "unavailable"

var (
	perfElapsedRE   = regexp.MustCompile(`(\d+\.\d+)\s+seconds time elapsed`)
	perfCacheMissRE = regexp.MustCompile(`([\d,]+)\s+cache-misses.*#\s*([\d.]+)\s*%`)
	perfInstrRE     = regexp.MustCompile(`([\d,]+)\s+instructions`)
)

// parsePerfStat reads the statistics block "perf stat" prints on stderr.
// perf stat carries no per-function samples, so Samples stays empty.
func parsePerfStat(output string) *types.ProfilingData {
	data := &types.ProfilingData{
		Tool:        toolPerf,
		ElapsedTime: unavailable,
		MemoryPeak:  unavailable,
		Counters:    map[string]string{},
	}
	if m := perfElapsedRE.FindStringSubmatch(output); m != nil {
		data.ElapsedTime = m[1] + "s"
	}
	if m := perfCacheMissRE.FindStringSubmatch(output); m != nil {
		data.Counters["cache_miss_rate"] = m[2] + "%"
	}
	if m := perfInstrRE.FindStringSubmatch(output); m != nil {
		data.Counters["instructions"] = m[1]
	}
	return data
}

var (
	timeElapsedRE = regexp.MustCompile(`Elapsed \(wall clock\) time.*: ([\d:.]+)`)
	timeUserRE    = regexp.MustCompile(`User time \(seconds\):\s*([\d.]+)`)
	timeSysRE     = regexp.MustCompile(`System time \(seconds\):\s*([\d.]+)`)
	timeCPURE     = regexp.MustCompile(`Percent of CPU this job got:\s*(\d+)%`)
	timeRSSRE     = regexp.MustCompile(`Maximum resident set size.*: (\d+)`)
	timeVolCSRE   = regexp.MustCompile(`Voluntary context switches:\s*(\d+)`)
	timeInvolRE   = regexp.MustCompile(`Involuntary context switches:\s*(\d+)`)
	timeMajPFRE   = regexp.MustCompile(`Major \(requiring I/O\) page faults:\s*(\d+)`)
	timeMinPFRE   = regexp.MustCompile(`Minor \(reclaiming a frame\) page faults:\s*(\d+)`)
	timeFSInRE    = regexp.MustCompile(`File system inputs:\s*(\d+)`)
	timeFSOutRE   = regexp.MustCompile(`File system outputs:\s*(\d+)`)
)

// parseTimeV reads GNU time's -v report from stderr.
func parseTimeV(output string) *types.ProfilingData {
	data := &types.ProfilingData{
		Tool:        toolTime,
		ElapsedTime: unavailable,
		MemoryPeak:  unavailable,
		Counters:    map[string]string{},
	}
	if m := timeElapsedRE.FindStringSubmatch(output); m != nil {
		data.ElapsedTime = m[1]
	}
	if m := timeUserRE.FindStringSubmatch(output); m != nil {
		data.Counters["user_time_s"] = m[1]
	}
	if m := timeSysRE.FindStringSubmatch(output); m != nil {
		data.Counters["system_time_s"] = m[1]
	}
	if m := timeCPURE.FindStringSubmatch(output); m != nil {
		data.Counters["cpu_percent"] = m[1] + "%"
	}
	if m := timeRSSRE.FindStringSubmatch(output); m != nil {
		if kb, err := strconv.Atoi(m[1]); err == nil {
			if kb > 1024 {
				data.MemoryPeak = fmt.Sprintf("%d MB", kb/1024)
			} else {
				data.MemoryPeak = fmt.Sprintf("%d KB", kb)
			}
		}
	}
	for key, re := range map[string]*regexp.Regexp{
		"voluntary_ctx_switches":   timeVolCSRE,
		"involuntary_ctx_switches": timeInvolRE,
		"major_page_faults":        timeMajPFRE,
		"minor_page_faults":        timeMinPFRE,
		"fs_inputs":                timeFSInRE,
		"fs_outputs":               timeFSOutRE,
	} {
		if m := re.FindStringSubmatch(output); m != nil {
			data.Counters[key] = m[1]
		}
	}
	return data
}

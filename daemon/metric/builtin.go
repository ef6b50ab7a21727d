package metric

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BuiltinFunc is an in-process host metric evaluator, used for the handful
// of metrics the original library sourced directly from /proc instead of
// spawning a shell command.
type BuiltinFunc func() (string, error)

// Builtins maps metric names to their in-process evaluator. A metric whose
// name matches one of these is evaluated without running its configured
// action, mirroring libmetrics/host_metrics.c's fixed set of fast paths.
var Builtins = map[string]BuiltinFunc{
	"TotalMem":     readMemTotal,
	"UsedMem":      readMemUsed,
	"FreeMem":      readMemFree,
	"TotalCPUTime": readTotalCPUTime,
	"NumCPUs":      readNumCPUs,
}

func readMemInfo() (map[string]uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, fmt.Errorf("reading /proc/meminfo: %w", err)
	}
	defer f.Close()

	fields := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimSuffix(rest, " kB")
		val, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			continue
		}
		fields[strings.TrimSpace(name)] = val * 1024
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning /proc/meminfo: %w", err)
	}
	return fields, nil
}

func readMemTotal() (string, error) {
	fields, err := readMemInfo()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(fields["MemTotal"], 10), nil
}

func readMemFree() (string, error) {
	fields, err := readMemInfo()
	if err != nil {
		return "", err
	}
	free := fields["MemFree"] + fields["Buffers"] + fields["Cached"]
	return strconv.FormatUint(free, 10), nil
}

func readMemUsed() (string, error) {
	fields, err := readMemInfo()
	if err != nil {
		return "", err
	}
	free := fields["MemFree"] + fields["Buffers"] + fields["Cached"]
	used := fields["MemTotal"] - free
	return strconv.FormatUint(used, 10), nil
}

// readTotalCPUTime sums the first seven jiffie columns (user, nice, system,
// idle, iowait, irq, softirq) of /proc/stat's aggregate "cpu" line and
// converts to nanoseconds, matching
// libmetrics/host_metrics.c's TotalCPUTime metric.
func readTotalCPUTime() (string, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return "", fmt.Errorf("reading /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		var total uint64
		for _, f := range fields[1:8] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return "", fmt.Errorf("parsing /proc/stat cpu line: %w", err)
			}
			total += v
		}
		const nsPerJiffy = 1000000000 / 100 // assume USER_HZ=100
		return strconv.FormatUint(total*nsPerJiffy, 10), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning /proc/stat: %w", err)
	}
	return "", fmt.Errorf("no aggregate cpu line in /proc/stat")
}

// readNumCPUs counts the per-core "cpuN" lines in /proc/stat.
func readNumCPUs() (string, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return "", fmt.Errorf("reading /proc/stat: %w", err)
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "cpu") && len(line) > 3 && line[3] >= '0' && line[3] <= '9' {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning /proc/stat: %w", err)
	}
	return strconv.Itoa(n), nil
}

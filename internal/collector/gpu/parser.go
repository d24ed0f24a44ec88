package gpu

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

const (
	// sentinelThreshold is the threshold above which DCGM metric values are
	// treated as "blank" sentinel values (~1.8e19) and rejected.
	sentinelThreshold = 1e15

	// mibToBytes converts mebibytes to bytes.
	mibToBytes = 1048576
)

const (
	metricProfGrEngineActive = "DCGM_FI_PROF_GR_ENGINE_ACTIVE"
	metricProfTensorActive   = "DCGM_FI_PROF_PIPE_TENSOR_ACTIVE"
	metricDevMemCopyUtil     = "DCGM_FI_DEV_MEM_COPY_UTIL"
	metricDevGPUUtil         = "DCGM_FI_DEV_GPU_UTIL"
	metricDevFBUsed          = "DCGM_FI_DEV_FB_USED"
	metricDevFBFree          = "DCGM_FI_DEV_FB_FREE"
	metricDevFBTotal         = "DCGM_FI_DEV_FB_TOTAL"
	metricDevGPUTemp         = "DCGM_FI_DEV_GPU_TEMP"
	metricDevPowerUsage      = "DCGM_FI_DEV_POWER_USAGE"
	metricDevMIGMode         = "DCGM_FI_DEV_MIG_MODE"
)

type dcgmLabels struct {
	gpu           string
	uuid          string
	device        string
	modelName     string
	driverVersion string
	hostname      string
	podName       string
	namespace     string
	containerName string
	gpuInstanceID string
	gpuProfile    string
}

// sample is a single metric line from the exposition text.
type sample struct {
	name   string
	labels dcgmLabels
	value  float64
}

// applyFns maps a DCGM field name to the mutation it performs on the
// per-device record. Sentinel values are filtered before dispatch.
var applyFns = map[string]func(*GPUDeviceMetrics, float64){
	metricProfTensorActive: func(d *GPUDeviceMetrics, v float64) {
		pct := v * 100
		d.TensorActivePercent = &pct
	},
	metricDevMemCopyUtil: func(d *GPUDeviceMetrics, v float64) {
		d.MemCopyUtilPercent = &v
	},
	metricDevFBUsed: func(d *GPUDeviceMetrics, v float64) {
		b := int64(v * mibToBytes)
		d.MemoryUsedBytes = &b
	},
	metricDevFBFree: func(d *GPUDeviceMetrics, v float64) {
		b := int64(v * mibToBytes)
		d.MemoryFreeBytes = &b
	},
	metricDevFBTotal: func(d *GPUDeviceMetrics, v float64) {
		b := int64(v * mibToBytes)
		d.MemoryTotalBytes = &b
	},
	metricDevGPUTemp: func(d *GPUDeviceMetrics, v float64) {
		d.Temperature = &v
	},
	metricDevPowerUsage: func(d *GPUDeviceMetrics, v float64) {
		d.PowerUsage = &v
	},
	metricDevMIGMode: func(d *GPUDeviceMetrics, v float64) {
		enabled := v == 1
		d.MIGEnabled = &enabled
	},
}

// ParseDCGMMetrics parses Prometheus exposition text from dcgm-exporter and
// returns per-GPU device metrics. Devices are keyed by UUID, falling back to
// the gpu index label for exporters that omit it. Both old-style (pod_name,
// pod_namespace, container_name) and new-style (pod, namespace, container)
// label schemas are accepted.
func ParseDCGMMetrics(data []byte) ([]GPUDeviceMetrics, error) {
	devices := make(map[string]*GPUDeviceMetrics)
	hasProf := make(map[string]bool)

	for _, s := range scanExposition(data) {
		key := s.labels.uuid
		if key == "" {
			key = s.labels.gpu
		}
		if key == "" {
			continue
		}
		if isSentinel(s.value) {
			continue
		}

		dev := deviceFor(devices, key, s.labels)

		// Utilization needs cross-sample state: on Volta+ the profiling
		// engine-active ratio supersedes the legacy utilization gauge.
		switch s.name {
		case metricProfGrEngineActive:
			pct := s.value * 100
			dev.GPUUtilization = &pct
			hasProf[key] = true
		case metricDevGPUUtil:
			if !hasProf[key] {
				v := s.value
				dev.GPUUtilization = &v
			}
		default:
			if apply, ok := applyFns[s.name]; ok {
				apply(dev, s.value)
			}
		}
	}

	result := make([]GPUDeviceMetrics, 0, len(devices))
	for _, dev := range devices {
		if dev.MemoryTotalBytes == nil && dev.MemoryUsedBytes != nil && dev.MemoryFreeBytes != nil {
			total := *dev.MemoryUsedBytes + *dev.MemoryFreeBytes
			dev.MemoryTotalBytes = &total
		}
		result = append(result, *dev)
	}
	return result, nil
}

// scanExposition walks the exposition text line by line, skipping comments
// and blank lines, and collects parseable metric samples.
func scanExposition(data []byte) []sample {
	var samples []sample
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		s, ok := parseLine(line)
		if !ok {
			continue
		}
		samples = append(samples, s)
	}

	return samples
}

// parseLine parses one metric line:
//
//	metric_name{label1="val1",label2="val2"} value [timestamp]
func parseLine(line string) (sample, bool) {
	var s sample

	braceStart := strings.IndexByte(line, '{')
	if braceStart < 0 {
		// Unlabeled form: "name value"
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return s, false
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return s, false
		}
		s.name = parts[0]
		s.value = v
		return s, true
	}

	braceEnd := strings.LastIndexByte(line, '}')
	if braceEnd <= braceStart {
		return s, false
	}

	s.name = line[:braceStart]
	s.labels = parseLabels(line[braceStart+1 : braceEnd])

	parts := strings.Fields(strings.TrimSpace(line[braceEnd+1:]))
	if len(parts) == 0 {
		return s, false
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return s, false
	}
	s.value = v

	return s, true
}

// parseLabels parses the label portion of a metric line:
//
//	label1="val1",label2="val2"
//
// Escapes inside quoted values are honored. Old- and new-style pod
// attribution labels normalize into the same fields; new-style wins
// when both appear.
func parseLabels(s string) dcgmLabels {
	var l dcgmLabels
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := s[:eq]
		s = s[eq+1:]

		if len(s) == 0 || s[0] != '"' {
			break
		}
		s = s[1:]

		// Read value until the unescaped closing quote.
		var val strings.Builder
		i := 0
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				switch s[i+1] {
				case '"':
					val.WriteByte('"')
				case '\\':
					val.WriteByte('\\')
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte('\\')
					val.WriteByte(s[i+1])
				}
				i += 2
				continue
			}
			if s[i] == '"' {
				break
			}
			val.WriteByte(s[i])
			i++
		}

		value := val.String()
		if i < len(s) {
			s = s[i+1:] // skip closing quote
		} else {
			s = ""
		}

		if len(s) > 0 && s[0] == ',' {
			s = s[1:]
		}

		switch key {
		case "gpu":
			l.gpu = value
		case "UUID", "uuid":
			l.uuid = value
		case "device":
			l.device = value
		case "modelName":
			l.modelName = value
		case "DCGM_FI_DRIVER_VERSION":
			l.driverVersion = value
		case "Hostname":
			l.hostname = value
		case "pod":
			l.podName = value
		case "namespace":
			l.namespace = value
		case "container":
			l.containerName = value
		case "pod_name":
			if l.podName == "" {
				l.podName = value
			}
		case "pod_namespace":
			if l.namespace == "" {
				l.namespace = value
			}
		case "container_name":
			if l.containerName == "" {
				l.containerName = value
			}
		case "GPU_I_ID":
			l.gpuInstanceID = value
		case "GPU_I_PROFILE":
			l.gpuProfile = value
		}
	}
	return l
}

// deviceFor returns the record for key, creating it from the first seen
// labels if needed.
func deviceFor(devices map[string]*GPUDeviceMetrics, key string, labels dcgmLabels) *GPUDeviceMetrics {
	if d, ok := devices[key]; ok {
		return d
	}
	d := &GPUDeviceMetrics{
		GPU:           labels.gpu,
		UUID:          labels.uuid,
		Device:        labels.device,
		ModelName:     labels.modelName,
		DriverVersion: labels.driverVersion,
		Hostname:      labels.hostname,
		PodName:       labels.podName,
		Namespace:     labels.namespace,
		ContainerName: labels.containerName,
		GPUInstanceID: labels.gpuInstanceID,
		GPUProfile:    labels.gpuProfile,
	}
	devices[key] = d
	return d
}

// isSentinel reports whether the value is a DCGM blank sentinel. DCGM uses
// very large values (~1.8e19) for missing metrics.
func isSentinel(v float64) bool {
	return v > sentinelThreshold
}

// Package gpu scrapes NVIDIA GPU telemetry from dcgm-exporter endpoints.
//
// Scraped samples carry utilization, memory, temperature, and power per
// physical GPU plus the pod/container attribution labels dcgm-exporter
// attaches. A Recorder fans the samples out: temperature and power update
// the device registry, utilization samples are appended to the usage store.
//
// Both old-style (pod_name, pod_namespace, container_name) and new-style
// (pod, namespace, container) label schemas are accepted and normalized.
// DCGM sentinel values (~1.8e19) are rejected. On GPUs that expose
// profiling metrics, DCGM_FI_PROF_GR_ENGINE_ACTIVE is preferred over
// DCGM_FI_DEV_GPU_UTIL for utilization.
package gpu

package store

import (
	"reflect"
	"testing"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

func TestNewStore(t *testing.T) {
	s := NewStore()

	// Use reflection to verify all fields are non-nil pointers.
	v := reflect.ValueOf(s).Elem()
	typ := v.Type()

	if typ.NumField() != 8 {
		t.Fatalf("expected Store to have 8 fields, got %d", typ.NumField())
	}

	for i := 0; i < typ.NumField(); i++ {
		field := v.Field(i)
		if field.IsNil() {
			t.Errorf("Store.%s is nil, expected initialized field", typ.Field(i).Name)
		}
	}
}

func TestNewStore_BasicOperations(t *testing.T) {
	s := NewStore()

	node := model.GPUNode{Name: "gpu-node-1", Ready: true, TotalGPUs: 8}
	s.Nodes.Set("gpu-node-1", node)

	got, ok := s.Nodes.Get("gpu-node-1")
	if !ok {
		t.Fatal("expected gpu-node-1 to exist")
	}
	if got.Name != "gpu-node-1" || !got.Ready || got.TotalGPUs != 8 {
		t.Fatalf("unexpected node: %+v", got)
	}

	dev := model.GPUDevice{ID: "gpu-node-1-GPU-00", NodeName: "gpu-node-1", Status: model.DeviceActive}
	s.Devices.Set(dev.ID, dev)

	gotDev, ok := s.Devices.Get("gpu-node-1-GPU-00")
	if !ok {
		t.Fatal("expected device to exist")
	}
	if gotDev.NodeName != "gpu-node-1" || gotDev.Status != model.DeviceActive {
		t.Fatalf("unexpected device: %+v", gotDev)
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()

	counter := 0
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			km.Lock("dev-1")
			counter++
			km.Unlock("dev-1")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	if counter != 50 {
		t.Fatalf("expected counter 50, got %d", counter)
	}
}

func TestNewMetricsStore(t *testing.T) {
	ms := NewMetricsStore()

	if ms.NodeMetrics == nil {
		t.Error("MetricsStore.NodeMetrics is nil")
	}
	if ms.PodMetrics == nil {
		t.Error("MetricsStore.PodMetrics is nil")
	}

	// Basic operation
	nm := model.NodeMetrics{Name: "gpu-node-1", CPUUsageCores: 2.5, MemoryUsageBytes: 1024}
	ms.NodeMetrics.Set("gpu-node-1", nm)

	got, ok := ms.NodeMetrics.Get("gpu-node-1")
	if !ok {
		t.Fatal("expected node metrics to exist")
	}
	if got.CPUUsageCores != 2.5 {
		t.Fatalf("unexpected CPU usage: %f", got.CPUUsageCores)
	}
}

func TestUsageStore_AppendLatestRange(t *testing.T) {
	u := NewUsageStore()

	util := func(v float64) *float64 { return &v }
	u.Append(model.GPUUsageSample{DeviceID: "d1", UtilizationPercent: util(10), Timestamp: 100})
	u.Append(model.GPUUsageSample{DeviceID: "d1", UtilizationPercent: util(20), Timestamp: 200})
	u.Append(model.GPUUsageSample{DeviceID: "d1", UtilizationPercent: util(30), Timestamp: 300})
	u.Append(model.GPUUsageSample{DeviceID: "d2", UtilizationPercent: util(99), Timestamp: 150})

	latest, ok := u.Latest("d1")
	if !ok || latest.Timestamp != 300 {
		t.Fatalf("expected latest at ts=300, got %+v ok=%v", latest, ok)
	}

	if _, ok := u.Latest("missing"); ok {
		t.Fatal("expected no sample for unknown device")
	}

	in := u.Range("d1", 150, 300)
	if len(in) != 2 {
		t.Fatalf("expected 2 samples in range, got %d", len(in))
	}
}

func TestUsageStore_Averages(t *testing.T) {
	u := NewUsageStore()

	f := func(v float64) *float64 { return &v }
	u.Append(model.GPUUsageSample{DeviceID: "d1", UtilizationPercent: f(40), TemperatureC: f(70), Timestamp: 100})
	u.Append(model.GPUUsageSample{DeviceID: "d1", UtilizationPercent: f(60), TemperatureC: f(90), Timestamp: 200})
	// Sample with no utilization must not drag the average down.
	u.Append(model.GPUUsageSample{DeviceID: "d1", TemperatureC: f(80), Timestamp: 300})

	avg := u.Averages("d1", 0, 1000)
	if avg.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", avg.Samples)
	}
	if avg.AvgUtilizationPct != 50 {
		t.Fatalf("expected avg utilization 50, got %f", avg.AvgUtilizationPct)
	}
	if avg.AvgTemperatureC != 80 {
		t.Fatalf("expected avg temperature 80, got %f", avg.AvgTemperatureC)
	}
	if avg.MaxTemperatureC != 90 {
		t.Fatalf("expected max temperature 90, got %f", avg.MaxTemperatureC)
	}
}

func TestUsageStore_Prune(t *testing.T) {
	u := NewUsageStore()

	u.Append(model.GPUUsageSample{DeviceID: "d1", Timestamp: 100})
	u.Append(model.GPUUsageSample{DeviceID: "d1", Timestamp: 200})
	u.Append(model.GPUUsageSample{DeviceID: "d2", Timestamp: 100})

	dropped := u.Prune(150)
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if u.SampleCount() != 1 {
		t.Fatalf("expected 1 retained sample, got %d", u.SampleCount())
	}
	if _, ok := u.Latest("d2"); ok {
		t.Fatal("expected d2 to be fully pruned")
	}
}

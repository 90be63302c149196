package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/cpuid/v2"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

/* ---------- public API ---------- */

// Report is a portable summary of the host CPU and, when present, the GPU adapter.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	CPU         CPU               `json:"cpu"`
	GPU         *GPU              `json:"gpu,omitempty"`
	GPUError    string            `json:"gpu_error,omitempty"`
	Recommended Recommendations   `json:"recommended"`
	Env         map[string]string `json:"env,omitempty"`
}

// CPU describes the host processor
type CPU struct {
	Brand         string   `json:"brand"`
	Vendor        string   `json:"vendor"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	L2Bytes       int      `json:"l2_bytes"`
	AVX2          bool     `json:"avx2"`
	AVX512F       bool     `json:"avx512f"`
	Features      []string `json:"features"`
}

// GPU describes the WebGPU adapter picked for synapse kernels
type GPU struct {
	Backend     string   `json:"backend"`
	AdapterType string   `json:"adapter_type"`
	VendorID    string   `json:"vendor_id_hex"`
	DeviceID    string   `json:"device_id_hex"`
	Name        string   `json:"name"`
	Driver      string   `json:"driver"`
	Limits      Limits   `json:"limits"`
	Features    []string `json:"features"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Goroutines for per-sample work
	Workers int `json:"workers"`

	// 1D workgroup for synapse kernels
	WorkgroupX uint32 `json:"workgroup_x"`

	// Soft budget in bytes for GPU buffers
	BudgetBytes uint64 `json:"budget_bytes"`
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	rep := Detect()
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal report")
	}
	return string(b), nil
}

// Detect probes the CPU and the default adapter. A missing adapter is
// recorded in GPUError rather than failing the probe.
func Detect() *Report {
	rep := &Report{
		WhenISO: time.Now().UTC().Format(time.RFC3339),
		Runtime: runtime.GOOS + "/" + runtime.GOARCH,
		CPU:     detectCPU(),
		Env:     pickEnv([]string{"SNN_BUDGET_MB", "SNN_WORKERS"}),
	}

	rep.Recommended = Recommendations{
		Workers:     RecommendedWorkers(rep.CPU),
		WorkgroupX:  256,
		BudgetBytes: budgetBytes(),
	}

	gpu, err := detectGPU()
	if err != nil {
		rep.GPUError = err.Error()
	} else {
		rep.GPU = gpu
		rep.Recommended.WorkgroupX = chooseWorkgroup(gpu.Limits)
	}
	return rep
}

// RecommendedWorkers returns the goroutine count for per-sample work:
// one per physical core, falling back to GOMAXPROCS.
func RecommendedWorkers(c CPU) int {
	if c.PhysicalCores > 0 {
		return c.PhysicalCores
	}
	if c.LogicalCores > 0 {
		return c.LogicalCores
	}
	return runtime.GOMAXPROCS(0)
}

// Summary returns a short human readable description
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CPU: %s (%d cores / %d threads, L2 %v, AVX2=%v AVX512F=%v)",
		r.CPU.Brand, r.CPU.PhysicalCores, r.CPU.LogicalCores,
		datasize.ByteSize(r.CPU.L2Bytes).HumanReadable(), r.CPU.AVX2, r.CPU.AVX512F)
	if r.GPU != nil {
		fmt.Fprintf(&b, "\nGPU: %s [%s, %s]", r.GPU.Name, r.GPU.Backend, r.GPU.AdapterType)
	} else {
		fmt.Fprintf(&b, "\nGPU: none (%s)", r.GPUError)
	}
	fmt.Fprintf(&b, "\nRecommended: %d workers, workgroup %d, budget %v",
		r.Recommended.Workers, r.Recommended.WorkgroupX,
		datasize.ByteSize(r.Recommended.BudgetBytes).HumanReadable())
	return b.String()
}

/* ---------- helpers ---------- */

func detectCPU() CPU {
	c := cpuid.CPU
	l2 := c.Cache.L2
	if l2 < 0 {
		l2 = 0
	}
	return CPU{
		Brand:         strings.TrimSpace(c.BrandName),
		Vendor:        c.VendorString,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
		L2Bytes:       l2,
		AVX2:          c.Supports(cpuid.AVX2),
		AVX512F:       c.Supports(cpuid.AVX512F),
		Features:      c.FeatureSet(),
	}
}

func detectGPU() (*GPU, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, errors.New("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, errors.Wrap(err, "request adapter")
	}
	if adapter == nil {
		return nil, errors.New("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	return &GPU{
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Features: feats,
	}, nil
}

func chooseWorkgroup(l Limits) uint32 {
	candidates := []uint32{256, 128, 64, 32, 16, 8, 4, 1}
	for _, c := range candidates {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	// absolute portability fallback
	return 1
}

func budgetBytes() uint64 {
	budget := uint64(128 * datasize.MB)
	if mbStr := os.Getenv("SNN_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * uint64(datasize.MB)
		}
	}
	return budget
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

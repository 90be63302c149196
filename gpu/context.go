package gpu

import (
	"log"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// ErrNoAdapter is returned when no WebGPU adapter could be acquired
var ErrNoAdapter = errors.New("no WebGPU adapter available")

// Debug enables verbose kernel logging
var Debug bool

// Log prints a debug line when Debug is set
func Log(format string, args ...interface{}) {
	if Debug {
		log.Printf("[gpu] "+format, args...)
	}
}

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	initErr  error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.initErr = ctx.init()
	})

	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, errors.New("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return errors.Wrap(ErrNoAdapter, "failed to create WebGPU instance")
	}

	// Prefer a discrete NVIDIA adapter when one is enumerated
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		Log("adapter %s (vendor %s, type %d)", info.Name, info.VendorName, info.AdapterType)
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			Log("adapter request failed: %v", err)
		}
	}
	if c.Adapter == nil {
		return errors.Wrapf(ErrNoAdapter, "all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	Log("using adapter %s (vendor %s)", info.Name, info.VendorName)

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return errors.Wrap(err, "request device")
	}
	c.Queue = c.Device.GetQueue()
	return nil
}

// AdapterName returns the name of the active adapter, or "" when not initialized
func AdapterName() string {
	c, err := GetContext()
	if err != nil {
		return ""
	}
	return c.Adapter.GetInfo().Name
}

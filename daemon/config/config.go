// Package config loads and DTD-validates the vhostmd configuration
// document, turning it into global settings and a list of metric
// definitions ready for the evaluation engine.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vhostmd/vhostmd-go/daemon/dtdvalidate"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/metric"
)

// Transport names recognized in globals/transport.
const (
	TransportDisk     = "vbd"
	TransportXenstore = "xenstore"
	TransportVirtio   = "virtio"
)

const (
	// DefaultDiskPath is used when globals/disk/path is absent.
	DefaultDiskPath = "/dev/shm/vhostmd0"

	minDiskSize = 1024
	maxDiskSize = 256 * 1024 * 1024
	intMax      = 2147483647
)

// Global holds the settings parsed from <globals>.
type Global struct {
	DiskPath     string
	DiskSize     int64
	UpdatePeriod time.Duration
	PathOverride string
	Transports   []string
}

// HasTransport reports whether name was listed in globals/transport.
func (g Global) HasTransport(name string) bool {
	for _, t := range g.Transports {
		if t == name {
			return true
		}
	}
	return false
}

// Config is the fully parsed, DTD-validated configuration document.
type Config struct {
	Global  Global
	Metrics []*metric.Definition
}

type xmlDocument struct {
	XMLName xml.Name    `xml:"vhostmd"`
	Globals xmlGlobals  `xml:"globals"`
	Metrics []xmlMetric `xml:"metrics>metric"`
}

type xmlGlobals struct {
	Disk         *xmlDisk `xml:"disk"`
	UpdatePeriod int64    `xml:"update_period"`
	Path         string   `xml:"path"`
	Transport    []string `xml:"transport"`
}

type xmlDisk struct {
	Path string  `xml:"path"`
	Size xmlSize `xml:"size"`
}

type xmlSize struct {
	Unit  string `xml:"unit,attr"`
	Value int64  `xml:",chardata"`
}

type xmlMetric struct {
	Type     string        `xml:"type,attr"`
	Context  string        `xml:"context,attr"`
	Name     string        `xml:"name"`
	Action   string        `xml:"action"`
	Unit     string        `xml:"unit"`
	Variable []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// Load reads the document at path, DTD-validates it, and parses it into a
// Config. Malformed documents, DTD failures, and unreadable files are
// fatal; individual malformed metric entries are skipped with a warning.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration %s: %w", path, err)
	}

	if err := dtdvalidate.ValidateConfigDocument(data); err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}

	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing configuration %s: %w", path, err)
	}

	global, err := parseGlobals(doc.Globals)
	if err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}

	cfg := &Config{Global: global}
	for _, m := range doc.Metrics {
		def, ok := parseMetric(m)
		if ok {
			cfg.Metrics = append(cfg.Metrics, def)
		}
	}

	return cfg, nil
}

func parseGlobals(g xmlGlobals) (Global, error) {
	global := Global{DiskPath: DefaultDiskPath, DiskSize: minDiskSize}

	if g.Disk != nil {
		if g.Disk.Path != "" {
			global.DiskPath = g.Disk.Path
		}
		size, err := resolveDiskSize(g.Disk.Size)
		if err != nil {
			return Global{}, err
		}
		global.DiskSize = size
	}

	if g.UpdatePeriod <= 0 {
		return Global{}, fmt.Errorf("globals/update_period must be a positive integer, got %d", g.UpdatePeriod)
	}
	global.UpdatePeriod = time.Duration(g.UpdatePeriod) * time.Second

	global.PathOverride = g.Path

	for _, t := range g.Transport {
		switch t {
		case TransportDisk, TransportXenstore, TransportVirtio:
			global.Transports = append(global.Transports, t)
		default:
			logger.Warning("config: ignoring unknown transport %q", t)
		}
	}
	if len(global.Transports) == 0 {
		global.Transports = []string{TransportDisk}
	}

	return global, nil
}

// resolveDiskSize applies the k/K/m/M unit multiplier with the overflow
// check spec.md §4.2 requires, then rejects any size outside the
// [1024, 256 MiB] range the metrics disk layout permits.
func resolveDiskSize(s xmlSize) (int64, error) {
	mult := int64(1)
	switch s.Unit {
	case "", "b", "B":
		mult = 1
	case "k", "K":
		mult = 1024
	case "m", "M":
		mult = 1024 * 1024
	default:
		return 0, fmt.Errorf("globals/disk/size: unknown unit %q", s.Unit)
	}

	if s.Value > intMax/mult {
		return 0, fmt.Errorf("globals/disk/size: %d%s overflows", s.Value, s.Unit)
	}
	size := s.Value * mult

	if size < minDiskSize || size > maxDiskSize {
		return 0, fmt.Errorf("globals/disk/size: %d is outside the allowed [%d, %d] range", size, minDiskSize, maxDiskSize)
	}
	return size, nil
}

// parseMetric builds a metric.Definition from one <metric> element,
// returning ok=false (after logging a warning) when a required field is
// missing or unrecognized, per spec.md §4.2's "skip with a warning" rule.
func parseMetric(m xmlMetric) (*metric.Definition, bool) {
	if m.Name == "" || m.Action == "" || m.Type == "" || m.Context == "" {
		logger.Warning("config: skipping metric %q: missing required field", m.Name)
		return nil, false
	}

	ctx := metric.Context(m.Context)
	if ctx != metric.ContextHost && ctx != metric.ContextVM {
		logger.Warning("config: skipping metric %q: unsupported context %q", m.Name, m.Context)
		return nil, false
	}

	typ := metric.Type(m.Type)
	switch typ {
	case metric.TypeInt32, metric.TypeUint32, metric.TypeInt64, metric.TypeUint64,
		metric.TypeReal32, metric.TypeReal64, metric.TypeString, metric.TypeGroup, metric.TypeXML:
	default:
		logger.Warning("config: skipping metric %q: unknown type %q", m.Name, m.Type)
		return nil, false
	}

	name := m.Name
	typeStr := m.Type
	var vars []metric.Variable

	if typ == metric.TypeGroup {
		names := make([]string, 0, len(m.Variable))
		types := make([]string, 0, len(m.Variable))
		for _, v := range m.Variable {
			if v.Name == "" || v.Type == "" {
				logger.Warning("config: skipping group metric %q: malformed variable", m.Name)
				return nil, false
			}
			names = append(names, v.Name)
			types = append(types, v.Type)
			vars = append(vars, metric.Variable{Name: v.Name, Type: metric.Type(v.Type)})
		}
		name = strings.Join(names, ",")
		typeStr = strings.Join(types, ",")
	}

	def := metric.NewDefinition(name, ctx, typ, typeStr, m.Action, m.Unit, vars)
	def.Template = metric.NewActionTemplate(m.Action)
	return def, true
}

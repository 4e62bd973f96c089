// Package loader reads the five input tables into a validated topology model.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/config"
	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/topology"
)

// Files names the input tables
type Files struct {
	RegionCapacity string
	RegionTier     string
	GroupDemand    string
	RegionLink     string
	GroupLink      string
}

// DefaultFiles returns the standard table names inside dir
func DefaultFiles(dir string) Files {
	return Files{
		RegionCapacity: filepath.Join(dir, "cloud_provider_data.csv"),
		RegionTier:     filepath.Join(dir, "geo_place.csv"),
		GroupDemand:    filepath.Join(dir, "user_data.csv"),
		RegionLink:     filepath.Join(dir, "inter_region_data.csv"),
		GroupLink:      filepath.Join(dir, "inter_group_data.csv"),
	}
}

// FilesFromConfig resolves the configured table names
func FilesFromConfig(cfg config.InputConfig) Files {
	return Files{
		RegionCapacity: cfg.Path(cfg.RegionCapacityFile),
		RegionTier:     cfg.Path(cfg.RegionTierFile),
		GroupDemand:    cfg.Path(cfg.GroupDemandFile),
		RegionLink:     cfg.Path(cfg.RegionLinkFile),
		GroupLink:      cfg.Path(cfg.GroupLinkFile),
	}
}

// Loader builds a topology model from CSV tables. Each table starts with a
// header row, which is skipped.
type Loader struct {
	files       Files
	defaultZone string
	logger      *zap.Logger
}

// New creates a loader. defaultZone is the zone name the capacity table uses
// for capacity without zone affinity.
func New(files Files, defaultZone string, logger *zap.Logger) *Loader {
	if defaultZone == "" {
		defaultZone = models.DefaultZone
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{files: files, defaultZone: defaultZone, logger: logger}
}

// LoadDir loads the standard tables from dir
func LoadDir(ctx context.Context, dir string) (*topology.Model, error) {
	return New(DefaultFiles(dir), models.DefaultZone, nil).Load(ctx)
}

// Load reads all tables and validates the model. Any malformed row fails the
// whole load with an error wrapping topology.ErrMalformedInput.
func (l *Loader) Load(ctx context.Context) (*topology.Model, error) {
	b := &builder{
		regions:     make(map[string]*models.Region),
		groups:      make(map[string]*models.Group),
		defaultZone: l.defaultZone,
	}

	steps := []struct {
		path   string
		fields int
		parse  func(row) error
	}{
		{l.files.RegionCapacity, 5, b.regionCapacity},
		{l.files.RegionTier, 3, b.regionTier},
		{l.files.GroupDemand, 7, b.groupDemand},
		{l.files.RegionLink, 4, b.link(&b.regionLinks)},
		{l.files.GroupLink, 4, b.link(&b.groupLinks)},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readTable(step.path, step.fields, step.parse)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Table loaded", zap.String("path", step.path), zap.Int("rows", rows))
	}

	model, err := topology.NewModel(b.regionList(), b.groupList(), b.regionLinks, b.groupLinks)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Topology loaded",
		zap.Int("regions", len(b.regionOrder)),
		zap.Int("groups", len(b.groupOrder)),
		zap.Int("region_links", len(b.regionLinks)),
		zap.Int("group_links", len(b.groupLinks)))
	return model, nil
}

// row is one data record with its position for error messages
type row struct {
	fields []string
	path   string
	line   int
}

func (r row) field(i int) string {
	return strings.TrimSpace(r.fields[i])
}

func (r row) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s:%d: %s", topology.ErrMalformedInput, filepath.Base(r.path), r.line, fmt.Sprintf(format, args...))
}

func (r row) intField(i int, name string) (int, error) {
	v, err := strconv.Atoi(r.field(i))
	if err != nil {
		return 0, r.errorf("%s %q is not an integer", name, r.field(i))
	}
	if v < 0 {
		return 0, r.errorf("%s %d is negative", name, v)
	}
	return v, nil
}

// readTable feeds every data row of a CSV file to parse and returns the
// number of data rows
func readTable(path string, fields int, parse func(row) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	count := 0
	header := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return count, fmt.Errorf("%w: %s:%d: %v", topology.ErrMalformedInput, filepath.Base(path), parseErr.Line, parseErr.Err)
			}
			return count, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if header {
			header = false
			continue
		}
		if isBlank(record) {
			continue
		}

		line, _ := r.FieldPos(0)
		current := row{fields: record, path: path, line: line}
		if len(record) < fields {
			return count, current.errorf("expected %d fields, got %d", fields, len(record))
		}
		if err := parse(current); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// builder accumulates table rows; entities keep first-appearance order and
// repeated cells keep the last value
type builder struct {
	regions     map[string]*models.Region
	regionOrder []string
	groups      map[string]*models.Group
	groupOrder  []string

	regionLinks []models.LinkRecord
	groupLinks  []models.LinkRecord

	defaultZone string
}

// regionCapacity: region_id, <ignored>, zone_id, resource_kind, quantity
func (b *builder) regionCapacity(r row) error {
	id := r.field(0)
	zone := r.field(2)
	resource := r.field(3)
	if id == "" || zone == "" || resource == "" {
		return r.errorf("region, zone and resource are required")
	}
	quantity, err := r.intField(4, "quantity")
	if err != nil {
		return err
	}
	switch zone {
	case b.defaultZone:
		zone = models.DefaultZone
	case models.DefaultZone:
		// a real zone named like the internal one would merge into it
		return r.errorf("zone %q is reserved when the default zone is %q", zone, b.defaultZone)
	}

	region, ok := b.regions[id]
	if !ok {
		region = models.NewRegion(id)
		b.regions[id] = region
		b.regionOrder = append(b.regionOrder, id)
	}
	region.Capacity.Set(zone, resource, quantity)
	return nil
}

// regionTier: region_id, location_id, tier
func (b *builder) regionTier(r row) error {
	region, ok := b.regions[r.field(0)]
	if !ok {
		return r.errorf("unknown region %q", r.field(0))
	}
	location := r.field(1)
	if location == "" {
		return r.errorf("location is required")
	}
	tier, err := models.ParseTier(r.field(2))
	if err != nil {
		return r.errorf("%v", err)
	}
	region.Tiers[location] = tier
	return nil
}

// groupDemand: group_id, resource_kind, quantity, <ignored>, zone_demand,
// location_id, tier
func (b *builder) groupDemand(r row) error {
	id := r.field(0)
	resource := r.field(1)
	if id == "" || resource == "" {
		return r.errorf("group and resource are required")
	}
	quantity, err := r.intField(2, "quantity")
	if err != nil {
		return err
	}
	zones, err := parseZoneDemand(r.field(4))
	if err != nil {
		return r.errorf("%v", err)
	}
	location := r.field(5)
	if location == "" {
		return r.errorf("location is required")
	}
	tier, err := models.ParseTier(r.field(6))
	if err != nil {
		return r.errorf("%v", err)
	}

	group, ok := b.groups[id]
	if !ok {
		group = models.NewGroup(id)
		b.groups[id] = group
		b.groupOrder = append(b.groupOrder, id)
	}
	group.Demands[resource] = models.ResourceDemand{Quantity: quantity, Zones: zones}
	group.Requires = models.TierRequirement{Location: location, Tier: tier}
	return nil
}

// link: a, b, latency, bandwidth
func (b *builder) link(dst *[]models.LinkRecord) func(row) error {
	return func(r row) error {
		a, c := r.field(0), r.field(1)
		if a == "" || c == "" {
			return r.errorf("both endpoints are required")
		}
		latency, err := r.intField(2, "latency")
		if err != nil {
			return err
		}
		bandwidth, err := r.intField(3, "bandwidth")
		if err != nil {
			return err
		}
		*dst = append(*dst, models.LinkRecord{A: a, B: c, Link: models.Link{Latency: latency, Bandwidth: bandwidth}})
		return nil
	}
}

// parseZoneDemand parses "" or "5/3/1"
func parseZoneDemand(s string) (models.ZoneDemand, error) {
	if s == "" {
		return models.NoZoneDemand, nil
	}
	parts := strings.Split(s, "/")
	zones := make(models.ZoneDemand, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("zone demand %q is not a list of integers", s)
		}
		if v <= 0 {
			return nil, fmt.Errorf("zone demand %q has a non-positive entry", s)
		}
		zones = append(zones, v)
	}
	return zones, nil
}

func (b *builder) regionList() []*models.Region {
	out := make([]*models.Region, len(b.regionOrder))
	for i, id := range b.regionOrder {
		out[i] = b.regions[id]
	}
	return out
}

func (b *builder) groupList() []*models.Group {
	out := make([]*models.Group, len(b.groupOrder))
	for i, id := range b.groupOrder {
		out[i] = b.groups[id]
	}
	return out
}

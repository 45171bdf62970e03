package gcp

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/compute/v1"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// zoneWorkers bounds concurrent per-zone list calls within one region task.
const zoneWorkers = 4

type discovery struct {
	a       *Adapter
	s       *services
	project string
	region  string
}

// global reports whether the task covers every location.
func (d *discovery) global() bool { return d.region == "" || d.region == "global" }

func (d *discovery) resource(typ, nativeType, name, location string, id uint64) model.Resource {
	native := strconv.FormatUint(id, 10)
	if id == 0 {
		native = name
	}
	return model.Resource{
		ID:         model.QualifiedID(model.ProviderGCP, d.project, location, native),
		Provider:   model.ProviderGCP,
		AccountID:  d.project,
		Region:     location,
		Type:       typ,
		NativeType: nativeType,
		NativeID:   native,
		Name:       name,
		State:      model.StateUnknown,
		Attributes: map[string]string{},
	}
}

func fatal(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl) || model.IsSafetyViolation(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

// regionOf turns a zone name ("us-central1-a") into its region.
func regionOf(zone string) string {
	if i := strings.LastIndex(zone, "-"); i > 0 {
		return zone[:i]
	}
	return zone
}

// zones lists the UP zones of the task's region.
func (d *discovery) zones(ctx context.Context) ([]string, error) {
	var out []string
	token := ""
	for {
		var page *compute.ZoneList
		err := d.a.guarded(ctx, safety.Call(model.ProviderGCP, "compute", "ListZones"), func(ctx context.Context) error {
			var err error
			page, err = d.s.compute.Zones.List(d.project).PageToken(token).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, z := range page.Items {
			if z.Status != "" && z.Status != "UP" {
				continue
			}
			if d.global() || lastSegment(z.Region) == d.region {
				out = append(out, z.Name)
			}
		}
		if token = page.NextPageToken; token == "" {
			return out, nil
		}
	}
}

// perZone fans list out over the region's zones. A failing zone degrades the
// region to partial; throttling and safety failures end the task; every zone
// refusing the credentials fails the region.
func (d *discovery) perZone(ctx context.Context, what string, list func(ctx context.Context, zone string) ([]model.Resource, error)) ([]model.Resource, []model.Warning, error) {
	zones, err := d.zones(ctx)
	if err != nil {
		return nil, nil, err
	}

	var mu sync.Mutex
	var out []model.Resource
	var warns []model.Warning
	var authErr error
	authFailures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(zoneWorkers)
	for _, zone := range zones {
		g.Go(func() error {
			res, err := list(gctx, zone)
			if err != nil && fatal(err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				out = append(out, res...)
				return nil
			}
			var auth *model.ProviderAuthError
			if errors.As(err, &auth) {
				authErr = err
				authFailures++
			}
			d.a.logger.Warn("gcp zone scan failed", "project", d.project, "zone", zone, "scan", what, "error", err)
			warns = append(warns, model.AsWarning(err, model.Warning{
				Kind:       model.WarnPartialDiscovery,
				ScopeLevel: model.ScopeRegion,
				Scope:      model.RegionScope(model.ProviderGCP, d.project, d.region),
			}))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if len(zones) > 0 && authFailures == len(zones) {
		return nil, nil, authErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, warns, nil
}

func (d *discovery) instances(ctx context.Context, zone string) ([]model.Resource, error) {
	var out []model.Resource
	token := ""
	for {
		var page *compute.InstanceList
		err := d.a.guarded(ctx, safety.Call(model.ProviderGCP, "compute", "ListInstances").With("zone", zone), func(ctx context.Context) error {
			var err error
			page, err = d.s.compute.Instances.List(d.project, zone).PageToken(token).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, inst := range page.Items {
			out = append(out, d.instance(inst, zone))
		}
		if token = page.NextPageToken; token == "" {
			return out, nil
		}
	}
}

func (d *discovery) instance(inst *compute.Instance, zone string) model.Resource {
	r := d.resource(model.TypeCompute, "compute:instance", inst.Name, regionOf(zone), inst.Id)
	r.Tags = model.NewTags(inst.Labels)
	r.SKU = lastSegment(inst.MachineType)
	r.Attributes["zone"] = zone
	r.Attributes["family"] = policy.Family(r.SKU)
	r.Attributes["pricing_model"] = model.PricingOnDemand
	if s := inst.Scheduling; s != nil && (s.Preemptible || s.ProvisioningModel == "SPOT") {
		r.Attributes["pricing_model"] = model.PricingSpot
	}
	if sh, ok := machineShape(r.SKU); ok {
		r.Attributes["vcpus"] = strconv.FormatFloat(sh.vcpus, 'f', -1, 64)
		r.Attributes["memory_gb"] = strconv.FormatFloat(sh.memGB, 'f', -1, 64)
	}
	if t, ok := parseTime(inst.CreationTimestamp); ok {
		r.CreatedAt = t
	}
	switch inst.Status {
	case "RUNNING", "PROVISIONING", "STAGING":
		r.State = model.StateRunning
	case "STOPPING", "STOPPED", "TERMINATED", "SUSPENDING", "SUSPENDED":
		r.State = model.StateStopped
		if t, ok := parseTime(inst.LastStopTimestamp); ok {
			r.StateSince = &t
		}
	}
	return r
}

func (d *discovery) disks(ctx context.Context, zone string) ([]model.Resource, error) {
	var out []model.Resource
	token := ""
	for {
		var page *compute.DiskList
		err := d.a.guarded(ctx, safety.Call(model.ProviderGCP, "compute", "ListDisks").With("zone", zone), func(ctx context.Context) error {
			var err error
			page, err = d.s.compute.Disks.List(d.project, zone).PageToken(token).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, disk := range page.Items {
			r := d.resource(model.TypeStorage, "compute:disk", disk.Name, regionOf(zone), disk.Id)
			r.Tags = model.NewTags(disk.Labels)
			r.SKU = lastSegment(disk.Type)
			r.SizeGB = float64(disk.SizeGb)
			r.State = model.StateAvailable
			r.Attributes["zone"] = zone
			attached := len(disk.Users) > 0
			r.Attributes["attached"] = strconv.FormatBool(attached)
			if attached {
				r.Attributes["instance_id"] = lastSegment(disk.Users[0])
			} else if t, ok := parseTime(disk.LastDetachTimestamp); ok {
				r.StateSince = &t
			}
			if disk.ProvisionedIops > 0 {
				r.Attributes["iops"] = strconv.FormatInt(disk.ProvisionedIops, 10)
			}
			if t, ok := parseTime(disk.CreationTimestamp); ok {
				r.CreatedAt = t
				if !attached && r.StateSince == nil {
					r.StateSince = &t
				}
			}
			out = append(out, r)
		}
		if token = page.NextPageToken; token == "" {
			return out, nil
		}
	}
}

// addresses lists static external IPs of the region, or global ones for the
// "global" placeholder.
func (d *discovery) addresses(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	token := ""
	for {
		var page *compute.AddressList
		err := d.a.guarded(ctx, safety.Call(model.ProviderGCP, "compute", "ListAddresses").With("region", d.region), func(ctx context.Context) error {
			var err error
			if d.global() {
				page, err = d.s.compute.GlobalAddresses.List(d.project).PageToken(token).Context(ctx).Do()
			} else {
				page, err = d.s.compute.Addresses.List(d.project, d.region).PageToken(token).Context(ctx).Do()
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, addr := range page.Items {
			if addr.AddressType == "INTERNAL" {
				continue
			}
			loc := d.region
			if loc == "" {
				loc = "global"
			}
			r := d.resource(model.TypeNetwork, "compute:address", addr.Name, loc, addr.Id)
			r.Tags = model.NewTags(addr.Labels)
			r.SKU = "static-ip"
			r.State = model.StateAvailable
			r.Attributes["kind"] = "ip"
			r.Attributes["address"] = addr.Address
			r.Attributes["associated"] = strconv.FormatBool(addr.Status == "IN_USE" || len(addr.Users) > 0)
			if t, ok := parseTime(addr.CreationTimestamp); ok {
				r.CreatedAt = t
			}
			out = append(out, r)
		}
		if token = page.NextPageToken; token == "" {
			return out, nil
		}
	}
}

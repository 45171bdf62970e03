package azure

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/reservations/armreservations"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// discovery normalizes one (subscription, location) worth of ARM output.
// List calls are subscription-wide, so each regional task keeps only its own
// location; the "global" placeholder keeps everything.
type discovery struct {
	a       *Adapter
	c       *Clients
	account model.CloudAccount
	region  string
}

func (d *discovery) wants(location string) bool {
	return d.region == "global" || d.region == "" || location == d.region
}

func (d *discovery) resource(typ, nativeType, id, name, location string) model.Resource {
	return model.Resource{
		ID:         model.QualifiedID(model.ProviderAzure, d.account.ID, location, id),
		Provider:   model.ProviderAzure,
		AccountID:  d.account.ID,
		Region:     location,
		Type:       typ,
		NativeType: nativeType,
		NativeID:   id,
		Name:       name,
		State:      model.StateUnknown,
		Attributes: map[string]string{"resource_group": resourceGroup(id)},
	}
}

// normalizeLocation turns display names ("East US") into ARM names ("eastus").
func normalizeLocation(loc *string) string {
	if loc == nil {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(*loc, " ", ""))
}

func tagsOf(tags map[string]*string) model.Tags {
	m := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			m[k] = *v
		}
	}
	return model.NewTags(m)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// resourceGroup extracts the resource group from an ARM resource id.
func resourceGroup(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func fatal(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl) || model.IsSafetyViolation(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// powerState maps the PowerState/* instance view code.
func powerState(code string) (string, bool) {
	switch strings.TrimPrefix(code, "PowerState/") {
	case "running", "starting":
		return model.StateRunning, true
	case "stopped", "stopping", "deallocated", "deallocating":
		return model.StateStopped, true
	}
	return "", false
}

func (d *discovery) virtualMachines(ctx context.Context) ([]model.Resource, []model.Warning, error) {
	var vms []*armcompute.VirtualMachine
	pager := d.c.VMs.NewListAllPager(nil)
	err := eachPage(ctx, d.a, safety.Call(model.ProviderAzure, "compute", "ListVirtualMachines"), pager,
		func(page armcompute.VirtualMachinesClientListAllResponse) {
			for _, vm := range page.Value {
				if vm != nil && vm.ID != nil && d.wants(normalizeLocation(vm.Location)) {
					vms = append(vms, vm)
				}
			}
		})
	if err != nil {
		return nil, nil, err
	}

	var out []model.Resource
	var warns []model.Warning
	for _, vm := range vms {
		r := d.resource(model.TypeCompute, "compute:vm", *vm.ID, deref(vm.Name), normalizeLocation(vm.Location))
		r.Tags = tagsOf(vm.Tags)
		r.Attributes["pricing_model"] = model.PricingOnDemand
		if p := vm.Properties; p != nil {
			if p.HardwareProfile != nil && p.HardwareProfile.VMSize != nil {
				r.SKU = string(*p.HardwareProfile.VMSize)
			}
			if p.Priority != nil && *p.Priority == armcompute.VirtualMachinePriorityTypesSpot {
				r.Attributes["pricing_model"] = model.PricingSpot
			}
			if p.StorageProfile != nil && p.StorageProfile.OSDisk != nil && p.StorageProfile.OSDisk.OSType != nil {
				r.Attributes["platform"] = strings.ToLower(string(*p.StorageProfile.OSDisk.OSType))
			}
			if p.TimeCreated != nil {
				r.CreatedAt = *p.TimeCreated
			}
		}
		if len(vm.Zones) > 0 && vm.Zones[0] != nil {
			r.Attributes["zone"] = *vm.Zones[0]
		}

		var view armcompute.VirtualMachinesClientInstanceViewResponse
		err := d.a.guarded(ctx, safety.Call(model.ProviderAzure, "compute", "GetInstanceView").With("vm", r.NativeID), func(ctx context.Context) error {
			var err error
			view, err = d.c.VMs.InstanceView(ctx, resourceGroup(*vm.ID), deref(vm.Name), nil)
			return err
		})
		if err != nil {
			if fatal(err) {
				return nil, warns, err
			}
			// keep the VM with an unknown state rather than dropping it
			d.a.logger.Warn("azure instance view failed", "account", d.account.ID, "vm", r.Name, "error", err)
			warns = append(warns, model.AsWarning(err, model.Warning{
				Kind:       model.WarnPartialDiscovery,
				ScopeLevel: model.ScopeResource,
				Scope:      r.ID,
			}))
			out = append(out, r)
			continue
		}
		for _, s := range view.Statuses {
			if s == nil || s.Code == nil {
				continue
			}
			if state, ok := powerState(*s.Code); ok {
				r.State = state
				r.Attributes["power_state"] = strings.TrimPrefix(*s.Code, "PowerState/")
				if state == model.StateStopped && s.Time != nil {
					t := *s.Time
					r.StateSince = &t
				}
			}
		}
		out = append(out, r)
	}
	return out, warns, nil
}

func (d *discovery) disks(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	pager := d.c.Disks.NewListPager(nil)
	err := eachPage(ctx, d.a, safety.Call(model.ProviderAzure, "compute", "ListDisks"), pager,
		func(page armcompute.DisksClientListResponse) {
			for _, disk := range page.Value {
				if disk == nil || disk.ID == nil {
					continue
				}
				loc := normalizeLocation(disk.Location)
				if !d.wants(loc) {
					continue
				}
				r := d.resource(model.TypeStorage, "compute:disk", *disk.ID, deref(disk.Name), loc)
				r.Tags = tagsOf(disk.Tags)
				r.State = model.StateAvailable
				if disk.SKU != nil && disk.SKU.Name != nil {
					r.SKU = string(*disk.SKU.Name)
				}
				attached := disk.ManagedBy != nil && *disk.ManagedBy != ""
				if p := disk.Properties; p != nil {
					if p.DiskSizeGB != nil {
						r.SizeGB = float64(*p.DiskSizeGB)
					}
					if p.DiskState != nil {
						attached = *p.DiskState != armcompute.DiskStateUnattached
					}
					if p.TimeCreated != nil {
						r.CreatedAt = *p.TimeCreated
					}
					if !attached && p.LastOwnershipUpdateTime != nil {
						t := *p.LastOwnershipUpdateTime
						r.StateSince = &t
					}
					if p.DiskIOPSReadWrite != nil {
						r.Attributes["iops"] = strconv.FormatInt(*p.DiskIOPSReadWrite, 10)
					}
				}
				r.Attributes["attached"] = strconv.FormatBool(attached)
				if attached {
					r.Attributes["instance_id"] = deref(disk.ManagedBy)
				}
				out = append(out, r)
			}
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *discovery) publicIPs(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	pager := d.c.PublicIPs.NewListAllPager(nil)
	err := eachPage(ctx, d.a, safety.Call(model.ProviderAzure, "network", "ListPublicIPAddresses"), pager,
		func(page armnetwork.PublicIPAddressesClientListAllResponse) {
			for _, ip := range page.Value {
				if ip == nil || ip.ID == nil {
					continue
				}
				loc := normalizeLocation(ip.Location)
				if !d.wants(loc) {
					continue
				}
				r := d.resource(model.TypeNetwork, "network:publicip", *ip.ID, deref(ip.Name), loc)
				r.Tags = tagsOf(ip.Tags)
				r.State = model.StateAvailable
				r.SKU = "public-ip-basic"
				if ip.SKU != nil && ip.SKU.Name != nil {
					r.SKU = "public-ip-" + strings.ToLower(string(*ip.SKU.Name))
				}
				r.Attributes["kind"] = "ip"
				associated := false
				if p := ip.Properties; p != nil {
					associated = p.IPConfiguration != nil || p.NatGateway != nil
					if p.IPAddress != nil {
						r.Attributes["address"] = *p.IPAddress
					}
				}
				r.Attributes["associated"] = strconv.FormatBool(associated)
				out = append(out, r)
			}
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reservations reports active reservations as commitments. Reservation orders
// are tenant-wide; a reservation without a location is reported from the
// account's first region.
func (d *discovery) reservations(ctx context.Context) ([]model.Resource, error) {
	home := "global"
	if len(d.account.Regions) > 0 {
		home = d.account.Regions[0]
	}
	var out []model.Resource
	pager := d.c.Reservations.NewListPager(nil)
	err := eachPage(ctx, d.a, safety.Call(model.ProviderAzure, "reservations", "ListReservationOrders"), pager,
		func(page armreservations.ReservationOrderClientListResponse) {
			for _, order := range page.Value {
				if order == nil || order.ID == nil || order.Properties == nil {
					continue
				}
				p := order.Properties
				if p.ProvisioningState != nil && *p.ProvisioningState != armreservations.ProvisioningStateSucceeded {
					continue
				}
				for i, rv := range p.Reservations {
					if rv == nil || rv.SKU == nil || rv.SKU.Name == nil {
						continue
					}
					loc := normalizeLocation(rv.Location)
					if loc == "" {
						loc = home
					}
					if !d.wants(loc) {
						continue
					}
					id := *order.ID
					if rv.ID != nil {
						id = *rv.ID
					} else if i > 0 {
						id += "/" + strconv.Itoa(i)
					}
					r := d.resource(model.TypeCommitment, "reservations:reservation", id, deref(p.DisplayName), loc)
					r.State = model.StateRunning
					r.SKU = *rv.SKU.Name
					r.Attributes["instance_family"] = policy.Family(r.SKU)
					if rv.Properties != nil && rv.Properties.Quantity != nil {
						r.Attributes["count"] = strconv.Itoa(int(*rv.Properties.Quantity))
					}
					if p.ExpiryDate != nil {
						r.Attributes["expires_at"] = p.ExpiryDate.Format("2006-01-02")
					}
					if p.CreatedDateTime != nil {
						r.CreatedAt = *p.CreatedDateTime
					}
					out = append(out, r)
				}
			}
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package aws

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// discovery normalizes one (account, region) worth of SDK output.
type discovery struct {
	c       *Clients
	account string
	region  string
	now     func() time.Time
}

func (d *discovery) resource(typ, nativeType, nativeID, name string) model.Resource {
	return model.Resource{
		ID:         model.QualifiedID(model.ProviderAWS, d.account, d.region, nativeID),
		Provider:   model.ProviderAWS,
		AccountID:  d.account,
		Region:     d.region,
		Type:       typ,
		NativeType: nativeType,
		NativeID:   nativeID,
		Name:       name,
		State:      model.StateUnknown,
		Attributes: map[string]string{},
	}
}

func parseTags(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Key != nil && t.Value != nil {
			out[*t.Key] = *t.Value
		}
	}
	return out
}

// transitionTime matches the timestamp EC2 embeds in StateTransitionReason,
// e.g. "User initiated (2024-01-01 10:00:00 GMT)".
var transitionTime = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

func stoppedSince(reason string) *time.Time {
	m := transitionTime.FindStringSubmatch(reason)
	if len(m) < 2 {
		return nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return nil
	}
	return &t
}

func instanceState(s types.InstanceStateName) string {
	switch s {
	case types.InstanceStateNameRunning, types.InstanceStateNamePending:
		return model.StateRunning
	case types.InstanceStateNameStopped, types.InstanceStateNameStopping:
		return model.StateStopped
	case types.InstanceStateNameTerminated, types.InstanceStateNameShuttingDown:
		return model.StateTerminated
	}
	return model.StateUnknown
}

func (d *discovery) instances(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := ec2.NewDescribeInstancesPaginator(d.c.EC2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				if inst.InstanceId == nil {
					continue
				}
				tags := parseTags(inst.Tags)
				r := d.resource(model.TypeCompute, "ec2:instance", *inst.InstanceId, tags["Name"])
				r.SKU = string(inst.InstanceType)
				r.Tags = model.NewTags(tags)
				if inst.State != nil {
					r.State = instanceState(inst.State.Name)
				}
				if r.State == model.StateTerminated {
					continue
				}
				if inst.LaunchTime != nil {
					r.CreatedAt = *inst.LaunchTime
				}
				if r.State == model.StateStopped {
					r.StateSince = stoppedSince(aws.ToString(inst.StateTransitionReason))
				}
				r.Attributes["pricing_model"] = model.PricingOnDemand
				if inst.InstanceLifecycle == types.InstanceLifecycleTypeSpot {
					r.Attributes["pricing_model"] = model.PricingSpot
				}
				if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
					r.Attributes["zone"] = *inst.Placement.AvailabilityZone
				}
				if inst.Platform != "" {
					r.Attributes["platform"] = string(inst.Platform)
				}
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (d *discovery) volumes(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := ec2.NewDescribeVolumesPaginator(d.c.EC2, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %w", err)
		}
		for _, v := range page.Volumes {
			if v.VolumeId == nil {
				continue
			}
			tags := parseTags(v.Tags)
			r := d.resource(model.TypeStorage, "ec2:volume", *v.VolumeId, tags["Name"])
			r.SKU = string(v.VolumeType)
			r.SizeGB = float64(aws.ToInt32(v.Size))
			r.Tags = model.NewTags(tags)
			r.State = model.StateAvailable
			if v.CreateTime != nil {
				r.CreatedAt = *v.CreateTime
			}
			attached := len(v.Attachments) > 0
			r.Attributes["attached"] = strconv.FormatBool(attached)
			if attached && v.Attachments[0].InstanceId != nil {
				r.Attributes["instance_id"] = *v.Attachments[0].InstanceId
			}
			if v.Iops != nil {
				r.Attributes["iops"] = strconv.Itoa(int(*v.Iops))
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) snapshots(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := ec2.NewDescribeSnapshotsPaginator(d.c.EC2, &ec2.DescribeSnapshotsInput{OwnerIds: []string{"self"}})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe snapshots: %w", err)
		}
		for _, s := range page.Snapshots {
			if s.SnapshotId == nil {
				continue
			}
			tags := parseTags(s.Tags)
			r := d.resource(model.TypeStorage, "ec2:snapshot", *s.SnapshotId, tags["Name"])
			r.SKU = "snapshot"
			r.SizeGB = float64(aws.ToInt32(s.VolumeSize))
			r.Tags = model.NewTags(tags)
			r.State = model.StateAvailable
			if s.StartTime != nil {
				r.CreatedAt = *s.StartTime
			}
			r.Attributes["kind"] = "snapshot"
			if s.VolumeId != nil {
				r.Attributes["volume_id"] = *s.VolumeId
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *discovery) addresses(ctx context.Context) ([]model.Resource, error) {
	page, err := d.c.EC2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %w", err)
	}
	var out []model.Resource
	for _, addr := range page.Addresses {
		id := aws.ToString(addr.AllocationId)
		if id == "" {
			id = aws.ToString(addr.PublicIp)
		}
		if id == "" {
			continue
		}
		tags := parseTags(addr.Tags)
		r := d.resource(model.TypeNetwork, "ec2:eip", id, aws.ToString(addr.PublicIp))
		r.SKU = "public-ipv4"
		r.Tags = model.NewTags(tags)
		r.State = model.StateAvailable
		r.Attributes["kind"] = "ip"
		r.Attributes["associated"] = strconv.FormatBool(addr.AssociationId != nil)
		out = append(out, r)
	}
	return out, nil
}

func (d *discovery) natGateways(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	paginator := ec2.NewDescribeNatGatewaysPaginator(d.c.EC2, &ec2.DescribeNatGatewaysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe nat gateways: %w", err)
		}
		for _, ngw := range page.NatGateways {
			if ngw.NatGatewayId == nil || ngw.State == types.NatGatewayStateDeleted {
				continue
			}
			tags := parseTags(ngw.Tags)
			r := d.resource(model.TypeNetwork, "ec2:natgateway", *ngw.NatGatewayId, tags["Name"])
			r.SKU = "nat-gateway"
			r.Tags = model.NewTags(tags)
			r.State = model.StateRunning
			if ngw.CreateTime != nil {
				r.CreatedAt = *ngw.CreateTime
			}
			r.Attributes["kind"] = "nat"
			out = append(out, r)
		}
	}
	return out, nil
}

// reservations lists active reserved instances as commitments.
func (d *discovery) reservations(ctx context.Context) ([]model.Resource, error) {
	page, err := d.c.EC2.DescribeReservedInstances(ctx, &ec2.DescribeReservedInstancesInput{
		Filters: []types.Filter{{Name: aws.String("state"), Values: []string{"active"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe reserved instances: %w", err)
	}
	var out []model.Resource
	for _, ri := range page.ReservedInstances {
		if ri.ReservedInstancesId == nil {
			continue
		}
		r := d.resource(model.TypeCommitment, "ec2:reserved-instance", *ri.ReservedInstancesId, "")
		r.SKU = string(ri.InstanceType)
		r.Tags = model.NewTags(parseTags(ri.Tags))
		r.State = model.StateRunning
		if ri.Start != nil {
			r.CreatedAt = *ri.Start
		}
		if ri.Scope == types.ScopeRegional {
			r.Attributes["instance_family"] = policy.Family(r.SKU)
		}
		r.Attributes["count"] = strconv.Itoa(int(aws.ToInt32(ri.InstanceCount)))
		if ri.End != nil {
			r.Attributes["expires_at"] = ri.End.UTC().Format(time.RFC3339)
		}
		out = append(out, r)
	}
	return out, nil
}

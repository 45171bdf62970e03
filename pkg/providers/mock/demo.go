package mock

import (
	"math"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// DemoAccount is the account id used by the demo fixture.
const DemoAccount = "123456789012"

// HourlySamples generates one sample per hour in [start, end).
func HourlySamples(resourceID, metric string, start, end time.Time, fn func(t time.Time) float64) []model.UtilizationSample {
	var out []model.UtilizationSample
	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		if t.Before(start) {
			continue
		}
		out = append(out, model.UtilizationSample{ResourceID: resourceID, Metric: metric, Timestamp: t, Value: fn(t)})
	}
	return out
}

func ago(now time.Time, days float64) *time.Time {
	t := now.Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

// Demo returns an adapter seeded with one example of every rule trigger.
func Demo(guard *safety.Guard, now time.Time) *Adapter {
	a := New(guard)
	const region = "us-east-1"
	window := now.Add(-30 * 24 * time.Hour)

	a.AddResource(DemoAccount, region, model.Resource{
		Name: "i-0stopped45days", NativeType: "AWS::EC2::Instance", Type: model.TypeCompute,
		SKU: "m5.large", State: model.StateStopped, StateSince: ago(now, 45), CreatedAt: *ago(now, 200),
		Tags: model.NewTags(map[string]string{"team": "legacy"}),
	})
	busy := a.AddResource(DemoAccount, region, model.Resource{
		Name: "i-0oversized", NativeType: "AWS::EC2::Instance", Type: model.TypeCompute,
		SKU: "m5.2xlarge", State: model.StateRunning, StateSince: ago(now, 120), CreatedAt: *ago(now, 120),
		Tags: model.NewTags(map[string]string{"team": "api", "env": "prod"}),
	})
	a.SetSamples(busy.ID, "cpu", HourlySamples(busy.ID, "cpu", window, now, func(t time.Time) float64 {
		return 12 + 6*math.Sin(float64(t.Hour())/24*2*math.Pi)
	}))
	idle := a.AddResource(DemoAccount, region, model.Resource{
		Name: "i-0idle", NativeType: "AWS::EC2::Instance", Type: model.TypeCompute,
		SKU: "t3.medium", State: model.StateRunning, StateSince: ago(now, 10), CreatedAt: *ago(now, 10),
	})
	a.SetSamples(idle.ID, "cpu", HourlySamples(idle.ID, "cpu", window, now, func(time.Time) float64 { return 0.5 }))
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "i-0previousgen", NativeType: "AWS::EC2::Instance", Type: model.TypeCompute,
		SKU: "m4.large", State: model.StateRunning, StateSince: ago(now, 400), CreatedAt: *ago(now, 400),
	})
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "vol-0unattached", NativeType: "AWS::EC2::Volume", Type: model.TypeStorage,
		SKU: "gp3", SizeGB: 100, State: model.StateAvailable, StateSince: ago(now, 60), CreatedAt: *ago(now, 60),
		Attributes: map[string]string{"attached": "false", "volume_type": "gp3"},
	})
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "vol-0legacygp2", NativeType: "AWS::EC2::Volume", Type: model.TypeStorage,
		SKU: "gp2", SizeGB: 500, State: model.StateRunning, CreatedAt: *ago(now, 300),
		Attributes: map[string]string{"attached": "true", "volume_type": "gp2"},
	})
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "eipalloc-0unused", NativeType: "AWS::EC2::EIP", Type: model.TypeNetwork,
		SKU: "ElasticIP:IdleAddress", State: model.StateAvailable, CreatedAt: *ago(now, 90),
		Attributes: map[string]string{"associated": "false", "kind": "ip"},
	})
	nat := a.AddResource(DemoAccount, region, model.Resource{
		Name: "nat-0idle", NativeType: "AWS::EC2::NatGateway", Type: model.TypeNetwork,
		SKU: "NatGateway", State: model.StateAvailable, CreatedAt: *ago(now, 180),
		Attributes: map[string]string{"kind": "nat"},
	})
	a.SetSamples(nat.ID, "requests", HourlySamples(nat.ID, "requests", window, now, func(time.Time) float64 { return 0 }))
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "snap-0ancient", NativeType: "AWS::EC2::Snapshot", Type: model.TypeStorage,
		SKU: "EBS:SnapshotUsage", SizeGB: 100, State: model.StateAvailable, CreatedAt: *ago(now, 400),
		Attributes: map[string]string{"kind": "snapshot"},
	})
	a.AddResource(DemoAccount, region, model.Resource{
		Name: "db-orders", NativeType: "AWS::RDS::DBInstance", Type: model.TypeDatabase,
		SKU: "db.r5.large", State: model.StateRunning, StateSince: ago(now, 365), CreatedAt: *ago(now, 365),
	})

	for sku, p := range map[string]float64{
		"m5.large": 0.096, "m5.xlarge": 0.192, "m5.2xlarge": 0.384, "t3.medium": 0.0416,
		"t3.small": 0.0208, "m4.large": 0.10, "db.r5.large": 0.25, "db.r5.xlarge": 0.50,
		"NatGateway": 0.045, "ElasticIP:IdleAddress": 0.005,
	} {
		a.SetPrice(sku, model.RawPriceQuote{Unit: model.UnitHour, UnitPrice: p})
	}
	for sku, p := range map[string]float64{"gp3": 0.08, "gp2": 0.10, "EBS:SnapshotUsage": 0.05} {
		a.SetPrice(sku, model.RawPriceQuote{Unit: model.UnitGBMonth, UnitPrice: p})
	}

	a.SetBilling(DemoAccount, map[string]float64{
		model.CategoryCompute: 610,
		model.CategoryStorage: 58,
		model.CategoryNetwork: 33,
		model.CategoryHidden:  8.65,
	})
	return a
}

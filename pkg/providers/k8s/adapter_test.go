package k8s

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

const clusterID = "prod-cluster"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, c *Clients, opts ...Option) (*Adapter, *safety.MemorySink) {
	t.Helper()
	sink := &safety.MemorySink{}
	g := safety.NewGuard(safety.NewAuditLog(sink), safety.WithLogger(telemetry.Discard()))
	opts = append([]Option{
		WithLogger(telemetry.Discard()),
		WithClock(func() time.Time { return now }),
		WithSyncTimeout(2 * time.Second),
		WithClientFactory(func(model.CloudAccount) (*Clients, error) { return c, nil }),
	}, opts...)
	a := New(g, opts...)
	t.Cleanup(func() { _ = a.Close() })
	return a, sink
}

func acct() model.CloudAccount {
	return model.CloudAccount{ID: clusterID, Provider: model.ProviderKubernetes, Credential: "prod", Regions: []string{"us-east-1"}}
}

func scoped(region string) context.Context {
	return safety.WithScope(context.Background(), safety.Scope{ScanID: "scan-1", AccountID: clusterID, Provider: model.ProviderKubernetes, Region: region})
}

func discover(t *testing.T, a *Adapter, region, rt string) ([]model.Resource, []model.Warning, error) {
	t.Helper()
	return a.Discover(scoped(region), providers.DiscoveryRequest{Account: acct(), Region: region, ResourceType: rt})
}

func byName(rs []model.Resource) map[string]model.Resource {
	out := map[string]model.Resource{}
	for _, r := range rs {
		out[r.Name] = r
	}
	return out
}

func node(name string, lbls map[string]string, ready bool) *corev1.Node {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: lbls, CreationTimestamp: metav1.NewTime(now.Add(-90 * 24 * time.Hour))},
		Status: corev1.NodeStatus{
			Capacity: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("2"),
				corev1.ResourceMemory: resource.MustParse("8Gi"),
			},
			Conditions: []corev1.NodeCondition{{
				Type:               corev1.NodeReady,
				Status:             status,
				LastTransitionTime: metav1.NewTime(now.Add(-48 * time.Hour)),
			}},
		},
	}
}

func pod(namespace, name, nodeName string, mutate ...func(*corev1.Pod)) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       corev1.PodSpec{NodeName: nodeName},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
	for _, m := range mutate {
		m(p)
	}
	return p
}

func forbidden(resource string) k8stesting.ReactionFunc {
	return func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: resource}, "", errors.New("rbac denied"))
	}
}

func TestDiscoverNodes(t *testing.T) {
	kube := fake.NewSimpleClientset(
		node("ip-10-0-1-1", map[string]string{
			regionLabel:                   "us-east-1",
			zoneLabel:                     "us-east-1a",
			instanceTypeLabel:             "m5.large",
			"eks.amazonaws.com/nodegroup": "general",
		}, true),
		node("ip-10-0-1-2", map[string]string{
			regionLabel:                      "us-east-1",
			instanceTypeLabel:                "m5.large",
			"eks.amazonaws.com/capacityType": "SPOT",
		}, false),
		node("ip-10-1-1-1", map[string]string{regionLabel: "eu-west-1"}, true),

		pod("shop", "api-1", "ip-10-0-1-1"),
		pod("shop", "done", "ip-10-0-1-1", func(p *corev1.Pod) { p.Status.Phase = corev1.PodSucceeded }),
		pod("monitoring", "node-exporter", "ip-10-0-1-1", func(p *corev1.Pod) {
			p.OwnerReferences = []metav1.OwnerReference{{Kind: "DaemonSet", Name: "node-exporter"}}
		}),
		pod("kube-system", "coredns", "ip-10-0-1-1"),
		pod("default", "static", "ip-10-0-1-1", func(p *corev1.Pod) {
			p.Annotations = map[string]string{mirrorAnnotation: "abc"}
		}),
		pod("shop", "worker-1", "ip-10-0-1-2"),
	)
	a, sink := newAdapter(t, &Clients{Kube: kube})

	got, warns, err := discover(t, a, "us-east-1", model.TypeCompute)
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, got, 2)
	nodes := byName(got)

	n1 := nodes["ip-10-0-1-1"]
	assert.Equal(t, model.QualifiedID(model.ProviderKubernetes, clusterID, "us-east-1", "ip-10-0-1-1"), n1.ID)
	assert.Equal(t, "m5.large", n1.SKU)
	assert.Equal(t, model.StateRunning, n1.State)
	assert.Equal(t, "2", n1.Attr("vcpus"))
	assert.Equal(t, "8.00", n1.Attr("memory_gb"))
	assert.Equal(t, "us-east-1a", n1.Attr("zone"))
	assert.Equal(t, "general", n1.Attr("nodegroup"))
	assert.Equal(t, model.PricingOnDemand, n1.Attr("pricing_model"))
	assert.Equal(t, "1", n1.Attr("workloads"))
	v, ok := n1.Tags.Get(instanceTypeLabel)
	assert.True(t, ok)
	assert.Equal(t, "m5.large", v)

	n2 := nodes["ip-10-0-1-2"]
	assert.Equal(t, model.StateUnknown, n2.State)
	require.NotNil(t, n2.StateSince)
	assert.Equal(t, now.Add(-48*time.Hour), n2.StateSince.UTC())
	assert.Equal(t, model.PricingSpot, n2.Attr("pricing_model"))
	assert.Equal(t, "1", n2.Attr("workloads"))

	// nodes and pods, two audit entries each
	assert.Len(t, sink.Entries("scan-1"), 4)

	// served from the synced cache
	_, _, err = discover(t, a, "eu-west-1", model.TypeCompute)
	require.NoError(t, err)
	assert.Len(t, sink.Entries("scan-1"), 4)
}

func TestUnlabelledNodesUseHomeRegion(t *testing.T) {
	kube := fake.NewSimpleClientset(node("kind-control-plane", nil, true))
	a, _ := newAdapter(t, &Clients{Kube: kube})

	got, _, err := discover(t, a, "us-east-1", model.TypeCompute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "us-east-1", got[0].Region)
	assert.Equal(t, "node", got[0].SKU)

	got, _, err = discover(t, a, "eu-west-1", model.TypeCompute)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _, err = discover(t, a, "global", model.TypeCompute)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPodListFailureIsPartial(t *testing.T) {
	kube := fake.NewSimpleClientset(node("n1", map[string]string{regionLabel: "us-east-1"}, true))
	kube.PrependReactor("list", "pods", forbidden("pods"))
	a, _ := newAdapter(t, &Clients{Kube: kube}, WithSyncTimeout(500*time.Millisecond))

	got, warns, err := discover(t, a, "us-east-1", model.TypeCompute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Attr("workloads"))
	require.Len(t, warns, 1)
	assert.Equal(t, model.WarnPartialDiscovery, warns[0].Kind)
	assert.Equal(t, model.ScopeRegion, warns[0].ScopeLevel)
	assert.Equal(t, model.RegionScope(model.ProviderKubernetes, clusterID, "us-east-1"), warns[0].Scope)
	assert.Contains(t, warns[0].Message, "pods")
}

func TestDiscoverVolumes(t *testing.T) {
	released := metav1.NewTime(now.Add(-20 * 24 * time.Hour))
	kube := fake.NewSimpleClientset(
		&corev1.PersistentVolume{
			ObjectMeta: metav1.ObjectMeta{Name: "pv-bound", Labels: map[string]string{regionLabel: "us-east-1"}},
			Spec: corev1.PersistentVolumeSpec{
				Capacity:         corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("100Gi")},
				StorageClassName: "gp3",
				ClaimRef:         &corev1.ObjectReference{Namespace: "shop", Name: "data-db-0"},
			},
			Status: corev1.PersistentVolumeStatus{Phase: corev1.VolumeBound},
		},
		&corev1.PersistentVolume{
			ObjectMeta: metav1.ObjectMeta{Name: "pv-released"},
			Spec: corev1.PersistentVolumeSpec{
				Capacity: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("50Gi")},
			},
			Status: corev1.PersistentVolumeStatus{Phase: corev1.VolumeReleased, LastPhaseTransitionTime: &released},
		},
	)
	a, sink := newAdapter(t, &Clients{Kube: kube})

	got, warns, err := discover(t, a, "us-east-1", model.TypeStorage)
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, got, 2)
	vols := byName(got)

	bound := vols["pv-bound"]
	assert.Equal(t, model.TypeStorage, bound.Type)
	assert.Equal(t, "gp3", bound.SKU)
	assert.Equal(t, 100.0, bound.SizeGB)
	assert.Equal(t, "true", bound.Attr("attached"))
	assert.Equal(t, "shop/data-db-0", bound.Attr("claim"))
	assert.Nil(t, bound.StateSince)

	rel := vols["pv-released"]
	assert.Equal(t, "pv", rel.SKU)
	assert.Equal(t, 50.0, rel.SizeGB)
	assert.Equal(t, "false", rel.Attr("attached"))
	assert.Empty(t, rel.Attr("claim"))
	require.NotNil(t, rel.StateSince)
	assert.Equal(t, released.Time.UTC(), rel.StateSince.UTC())

	assert.Len(t, sink.Entries("scan-1"), 2)
}

func TestDiscoverLoadBalancers(t *testing.T) {
	kube := fake.NewSimpleClientset(
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Namespace: "shop", Name: "web"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeLoadBalancer},
			Status: corev1.ServiceStatus{LoadBalancer: corev1.LoadBalancerStatus{
				Ingress: []corev1.LoadBalancerIngress{{Hostname: "web-123.elb.amazonaws.com"}},
			}},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Namespace: "shop", Name: "pending"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeLoadBalancer},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Namespace: "shop", Name: "internal"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP},
		},
	)
	a, sink := newAdapter(t, &Clients{Kube: kube})

	got, _, err := discover(t, a, "eu-west-1", model.TypeNetwork)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, sink.Entries("scan-1"))

	got, _, err = discover(t, a, "us-east-1", model.TypeNetwork)
	require.NoError(t, err)
	require.Len(t, got, 2)
	lbs := byName(got)

	web := lbs["shop/web"]
	assert.Equal(t, "lb", web.Attr("kind"))
	assert.Equal(t, "true", web.Attr("provisioned"))
	assert.Equal(t, "web-123.elb.amazonaws.com", web.Attr("address"))
	assert.Equal(t, "shop", web.Attr("namespace"))
	assert.Equal(t, model.StateRunning, web.State)
	assert.Equal(t, "false", lbs["shop/pending"].Attr("provisioned"))
}

func TestForbiddenListIsPartial(t *testing.T) {
	kube := fake.NewSimpleClientset()
	kube.PrependReactor("list", "persistentvolumes", forbidden("persistentvolumes"))
	a, _ := newAdapter(t, &Clients{Kube: kube}, WithSyncTimeout(500*time.Millisecond))

	_, _, err := discover(t, a, "us-east-1", model.TypeStorage)
	var partial *model.PartialDiscoveryError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, clusterID, partial.Account)
	assert.Equal(t, "us-east-1", partial.Region)
	assert.Equal(t, "persistentvolumes", partial.ResourceType)
	assert.Equal(t, model.WarnPartialDiscovery, model.AsWarning(err, model.Warning{}).Kind)
}

func TestUnauthorizedListIsAuthError(t *testing.T) {
	kube := fake.NewSimpleClientset()
	kube.PrependReactor("list", "persistentvolumes", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewUnauthorized("token expired")
	})
	a, _ := newAdapter(t, &Clients{Kube: kube}, WithSyncTimeout(500*time.Millisecond))

	_, _, err := discover(t, a, "us-east-1", model.TypeStorage)
	var auth *model.ProviderAuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, clusterID, auth.Account)
}

func TestUnsupportedResourceType(t *testing.T) {
	a, _ := newAdapter(t, &Clients{Kube: fake.NewSimpleClientset()})
	_, _, err := discover(t, a, "us-east-1", model.TypeDatabase)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVerifyAccount(t *testing.T) {
	kube := fake.NewSimpleClientset()
	kube.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.31.1"}
	a, sink := newAdapter(t, &Clients{Kube: kube})
	require.NoError(t, a.VerifyAccount(scoped(""), acct()))
	assert.Len(t, sink.Entries("scan-1"), 2)

	denied := fake.NewSimpleClientset()
	denied.PrependReactor("get", "version", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewUnauthorized("token expired")
	})
	a, _ = newAdapter(t, &Clients{Kube: denied})
	var auth *model.ProviderAuthError
	assert.ErrorAs(t, a.VerifyAccount(scoped(""), acct()), &auth)
}

func TestClientFactoryFailureIsAuthError(t *testing.T) {
	a, _ := newAdapter(t, nil, WithClientFactory(func(model.CloudAccount) (*Clients, error) {
		return nil, errors.New(`context "prod" does not exist`)
	}))
	_, _, err := discover(t, a, "us-east-1", model.TypeCompute)
	var auth *model.ProviderAuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "us-east-1", auth.Region)
}

func TestGetPricing(t *testing.T) {
	a, _ := newAdapter(t, &Clients{Kube: fake.NewSimpleClientset()}, WithRateCard(config.RateCard{
		CPUCoreHour:      0.03,
		MemoryGBHour:     0.004,
		StorageGBMonth:   0.1,
		LoadBalancerHour: 0.025,
	}))
	nodeRes := model.Resource{NativeType: "core:node", SKU: "m5.large", Region: "us-east-1",
		Attributes: map[string]string{"vcpus": "2", "memory_gb": "8.00"}}

	tests := []struct {
		name  string
		res   model.Resource
		model string
		unit  string
		price float64
	}{
		{"node", nodeRes, model.PricingOnDemand, model.UnitHour, 2*0.03 + 8*0.004},
		{"spot node", nodeRes, model.PricingSpot, model.UnitHour, 2*0.03 + 8*0.004},
		{"volume", model.Resource{NativeType: "core:persistentvolume", SKU: "gp3"}, model.PricingOnDemand, model.UnitGBMonth, 0.1},
		{"load balancer", model.Resource{NativeType: "core:service", SKU: "load-balancer"}, model.PricingOnDemand, model.UnitHour, 0.025},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := a.GetPricing(context.Background(), tt.res, tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, q.Unit)
			assert.InDelta(t, tt.price, q.UnitPrice, 1e-9)
			assert.Equal(t, "USD", q.Currency)
		})
	}

	_, err := a.GetPricing(context.Background(), nodeRes, model.PricingReserved)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = a.GetPricing(context.Background(), model.Resource{NativeType: "core:node"}, model.PricingOnDemand)
	assert.ErrorIs(t, err, model.ErrNotFound)

	zero, _ := newAdapter(t, &Clients{Kube: fake.NewSimpleClientset()}, WithRateCard(config.RateCard{}))
	_, err = zero.GetPricing(context.Background(), model.Resource{NativeType: "core:service"}, model.PricingOnDemand)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReadOnlyTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/busy/api/v1/query_range" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	kube := &http.Client{Transport: &readOnlyTransport{base: srv.Client().Transport}}
	prom := &http.Client{Transport: &readOnlyTransport{base: srv.Client().Transport, posts: promQueryPaths}}

	tests := []struct {
		name   string
		client *http.Client
		method string
		path   string
		allow  bool
	}{
		{"list", kube, http.MethodGet, "/api/v1/nodes", true},
		{"watch", kube, http.MethodGet, "/api/v1/pods?watch=true", true},
		{"cordon", kube, http.MethodPatch, "/api/v1/nodes/n1", false},
		{"delete", kube, http.MethodDelete, "/api/v1/persistentvolumes/pv-1", false},
		{"create", kube, http.MethodPost, "/api/v1/namespaces/default/pods", false},
		{"kube post to query path", kube, http.MethodPost, "/api/v1/query_range", false},
		{"prometheus query", prom, http.MethodPost, "/api/v1/query_range", true},
		{"prometheus behind prefix", prom, http.MethodPost, "/prom/api/v1/query", true},
		{"prometheus admin", prom, http.MethodPost, "/api/v1/admin/tsdb/delete_series", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := tt.client.Do(req)
			if tt.allow {
				require.NoError(t, err)
				resp.Body.Close()
				return
			}
			assert.True(t, model.IsSafetyViolation(err), "got %v", err)
		})
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/busy/api/v1/query_range", nil)
	_, err := prom.Do(req)
	assert.ErrorIs(t, err, errThrottled)
}

func TestClassify(t *testing.T) {
	ctx := scoped("us-east-1")
	gr := schema.GroupResource{Resource: "nodes"}

	var rl *model.RateLimitError
	err := classify(ctx, "core:ListNodes", apierrors.NewTooManyRequests("slow down", 1))
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "core:ListNodes", rl.Call)
	assert.Equal(t, clusterID, rl.Account)
	assert.ErrorAs(t, classify(ctx, "prometheus:GetQueryRange", errThrottled), &rl)

	var auth *model.ProviderAuthError
	assert.ErrorAs(t, classify(ctx, "core:ListNodes", apierrors.NewForbidden(gr, "", errors.New("no"))), &auth)
	assert.ErrorAs(t, classify(ctx, "core:ListNodes", apierrors.NewUnauthorized("expired")), &auth)

	notFound := apierrors.NewNotFound(gr, "n1")
	assert.Equal(t, error(notFound), classify(ctx, "core:ListNodes", notFound))
	assert.ErrorIs(t, classify(ctx, "core:ListNodes", context.Canceled), context.Canceled)
	assert.NoError(t, classify(ctx, "core:ListNodes", nil))
}

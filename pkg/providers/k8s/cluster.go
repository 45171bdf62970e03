package k8s

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/tools/cache"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

const (
	regionLabel       = "topology.kubernetes.io/region"
	zoneLabel         = "topology.kubernetes.io/zone"
	instanceTypeLabel = "node.kubernetes.io/instance-type"
	mirrorAnnotation  = "kubernetes.io/config.mirror"
	gib               = 1 << 30
)

// nodeGroupLabels name the managed node pool of a node, per distribution.
var nodeGroupLabels = []string{
	"eks.amazonaws.com/nodegroup",
	"cloud.google.com/gke-nodepool",
	"kubernetes.azure.com/agentpool",
}

// spotLabels mark nodes running on preemptible capacity.
var spotLabels = map[string]string{
	"eks.amazonaws.com/capacityType":        "SPOT",
	"cloud.google.com/gke-spot":             "true",
	"cloud.google.com/gke-preemptible":      "true",
	"kubernetes.azure.com/scalesetpriority": "spot",
	"karpenter.sh/capacity-type":            "spot",
}

// cluster holds one cluster's clients and the informer caches discovery
// reads from. Listers are served from the local cache once it has synced.
type cluster struct {
	clients *Clients
	factory informers.SharedInformerFactory
	stop    chan struct{}

	mu       sync.Mutex
	hooked   map[string]bool
	synced   map[string]bool
	watchErr map[string]error
}

func newCluster(clients *Clients, factory informers.SharedInformerFactory) *cluster {
	return &cluster{
		clients:  clients,
		factory:  factory,
		stop:     make(chan struct{}),
		hooked:   map[string]bool{},
		synced:   map[string]bool{},
		watchErr: map[string]error{},
	}
}

// sync starts the informer for kind and waits for its first list. A failing
// list is retried by the reflector until timeout, after which its last error
// is returned.
func (c *cluster) sync(ctx context.Context, kind string, inf cache.SharedIndexInformer, timeout time.Duration) error {
	c.mu.Lock()
	if c.synced[kind] {
		c.mu.Unlock()
		return nil
	}
	if !c.hooked[kind] {
		_ = inf.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
			c.mu.Lock()
			c.watchErr[kind] = err
			c.mu.Unlock()
		})
		c.hooked[kind] = true
	}
	c.mu.Unlock()

	c.factory.Start(c.stop)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if !cache.WaitForCacheSync(sctx.Done(), inf.HasSynced) {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		err := c.watchErr[kind]
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return fmt.Errorf("%s cache did not sync within %s", kind, timeout)
	}

	c.mu.Lock()
	c.synced[kind] = true
	c.mu.Unlock()
	return nil
}

func (c *cluster) shutdown() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.factory.Shutdown()
}

type discovery struct {
	a      *Adapter
	c      *cluster
	acct   model.CloudAccount
	region string
}

// home is where resources without a region label are reported.
func (d *discovery) home() string {
	if len(d.acct.Regions) > 0 {
		return d.acct.Regions[0]
	}
	return "global"
}

func (d *discovery) global() bool { return d.region == "" || d.region == "global" }

func (d *discovery) locate(lbls map[string]string) (string, bool) {
	loc := lbls[regionLabel]
	if loc == "" {
		loc = d.home()
	}
	return loc, d.global() || loc == d.region
}

func (d *discovery) resource(typ, nativeType, name, location string, created time.Time) model.Resource {
	return model.Resource{
		ID:         model.QualifiedID(model.ProviderKubernetes, d.acct.ID, location, name),
		Provider:   model.ProviderKubernetes,
		AccountID:  d.acct.ID,
		Region:     location,
		Type:       typ,
		NativeType: nativeType,
		NativeID:   name,
		Name:       name,
		CreatedAt:  created,
		State:      model.StateUnknown,
		Attributes: map[string]string{},
	}
}

// fill guards the first list of kind, then serves it from the cache. RBAC
// denying one kind leaves the region partially discovered; credential
// failures stay auth errors.
func (d *discovery) fill(ctx context.Context, op, kind string, inf cache.SharedIndexInformer) error {
	d.c.mu.Lock()
	done := d.c.synced[kind]
	d.c.mu.Unlock()
	if done {
		return nil
	}
	err := d.a.guarded(ctx, safety.Call(model.ProviderKubernetes, "core", op), func(ctx context.Context) error {
		return d.c.sync(ctx, kind, inf, d.a.syncTimeout)
	})
	if apierrors.IsForbidden(err) {
		return &model.PartialDiscoveryError{
			Provider: model.ProviderKubernetes, Account: d.acct.ID, Region: d.region, ResourceType: kind, Err: err,
		}
	}
	return err
}

func (d *discovery) nodes(ctx context.Context) ([]model.Resource, []model.Warning, error) {
	nodeInf := d.c.factory.Core().V1().Nodes()
	if err := d.fill(ctx, "ListNodes", "nodes", nodeInf.Informer()); err != nil {
		return nil, nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodes, err := nodeInf.Lister().List(labels.Everything())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list nodes from cache: %w", err)
	}

	var warns []model.Warning
	workloads, err := d.workloads(ctx)
	if err != nil {
		if fatal(err) {
			return nil, nil, err
		}
		d.a.logger.Warn("kubernetes pod scan failed", "account", d.acct.ID, "error", err)
		warns = append(warns, model.AsWarning(err, model.Warning{
			Kind:       model.WarnPartialDiscovery,
			ScopeLevel: model.ScopeRegion,
			Scope:      model.RegionScope(model.ProviderKubernetes, d.acct.ID, d.region),
		}))
	}

	var out []model.Resource
	for _, node := range nodes {
		loc, ok := d.locate(node.Labels)
		if !ok {
			continue
		}
		r := d.node(node, loc)
		if workloads != nil {
			r.Attributes["workloads"] = strconv.Itoa(workloads[node.Name])
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, warns, nil
}

func (d *discovery) node(node *corev1.Node, loc string) model.Resource {
	r := d.resource(model.TypeCompute, "core:node", node.Name, loc, node.CreationTimestamp.Time)
	r.SKU = node.Labels[instanceTypeLabel]
	if r.SKU == "" {
		r.SKU = "node"
	}
	r.Tags = model.NewTags(node.Labels)
	r.Attributes["kind"] = "node"
	r.Attributes["vcpus"] = strconv.FormatFloat(node.Status.Capacity.Cpu().AsApproximateFloat64(), 'f', -1, 64)
	r.Attributes["memory_gb"] = strconv.FormatFloat(float64(node.Status.Capacity.Memory().Value())/gib, 'f', 2, 64)
	if z := node.Labels[zoneLabel]; z != "" {
		r.Attributes["zone"] = z
	}
	for _, l := range nodeGroupLabels {
		if g := node.Labels[l]; g != "" {
			r.Attributes["nodegroup"] = g
			break
		}
	}
	r.Attributes["pricing_model"] = model.PricingOnDemand
	for l, v := range spotLabels {
		if node.Labels[l] == v {
			r.Attributes["pricing_model"] = model.PricingSpot
			break
		}
	}
	if node.Spec.Unschedulable {
		r.Attributes["cordoned"] = "true"
	}
	for _, cond := range node.Status.Conditions {
		if cond.Type != corev1.NodeReady {
			continue
		}
		if cond.Status == corev1.ConditionTrue {
			r.State = model.StateRunning
		}
		if !cond.LastTransitionTime.IsZero() {
			since := cond.LastTransitionTime.Time
			r.StateSince = &since
		}
	}
	return r
}

// workloads counts the pods on each node that are real workload: not
// finished, not owned by a DaemonSet, not static mirrors and not in
// kube-system.
func (d *discovery) workloads(ctx context.Context) (map[string]int, error) {
	podInf := d.c.factory.Core().V1().Pods()
	if err := d.fill(ctx, "ListPods", "pods", podInf.Informer()); err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	pods, err := podInf.Lister().List(labels.Everything())
	if err != nil {
		return nil, fmt.Errorf("failed to list pods from cache: %w", err)
	}
	counts := map[string]int{}
	for _, pod := range pods {
		if pod.Spec.NodeName == "" || !isWorkload(pod) {
			continue
		}
		counts[pod.Spec.NodeName]++
	}
	return counts, nil
}

func isWorkload(pod *corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return false
	}
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return false
		}
	}
	if _, mirror := pod.Annotations[mirrorAnnotation]; mirror {
		return false
	}
	return pod.Namespace != "kube-system"
}

func (d *discovery) volumes(ctx context.Context) ([]model.Resource, error) {
	pvInf := d.c.factory.Core().V1().PersistentVolumes()
	if err := d.fill(ctx, "ListPersistentVolumes", "persistentvolumes", pvInf.Informer()); err != nil {
		return nil, fmt.Errorf("failed to list persistent volumes: %w", err)
	}
	pvs, err := pvInf.Lister().List(labels.Everything())
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent volumes from cache: %w", err)
	}

	var out []model.Resource
	for _, pv := range pvs {
		loc, ok := d.locate(pv.Labels)
		if !ok {
			continue
		}
		r := d.resource(model.TypeStorage, "core:persistentvolume", pv.Name, loc, pv.CreationTimestamp.Time)
		r.SKU = pv.Spec.StorageClassName
		if r.SKU == "" {
			r.SKU = "pv"
		}
		r.Tags = model.NewTags(pv.Labels)
		r.State = model.StateAvailable
		if q, ok := pv.Spec.Capacity[corev1.ResourceStorage]; ok {
			r.SizeGB = float64(q.Value()) / gib
		}
		r.Attributes["phase"] = string(pv.Status.Phase)
		r.Attributes["attached"] = strconv.FormatBool(pv.Status.Phase == corev1.VolumeBound)
		if ref := pv.Spec.ClaimRef; ref != nil && pv.Status.Phase == corev1.VolumeBound {
			r.Attributes["claim"] = ref.Namespace + "/" + ref.Name
		}
		switch {
		case pv.Status.LastPhaseTransitionTime != nil:
			since := pv.Status.LastPhaseTransitionTime.Time
			r.StateSince = &since
		case pv.Status.Phase != corev1.VolumeBound:
			since := pv.CreationTimestamp.Time
			r.StateSince = &since
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// loadBalancers lists Services of type LoadBalancer, each backed by a cloud
// load balancer billed to the cluster's account.
func (d *discovery) loadBalancers(ctx context.Context) ([]model.Resource, error) {
	loc := d.home()
	if !d.global() && loc != d.region {
		return nil, nil
	}
	svcInf := d.c.factory.Core().V1().Services()
	if err := d.fill(ctx, "ListServices", "services", svcInf.Informer()); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	svcs, err := svcInf.Lister().List(labels.Everything())
	if err != nil {
		return nil, fmt.Errorf("failed to list services from cache: %w", err)
	}

	var out []model.Resource
	for _, svc := range svcs {
		if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
			continue
		}
		r := d.resource(model.TypeNetwork, "core:service", svc.Namespace+"/"+svc.Name, loc, svc.CreationTimestamp.Time)
		r.SKU = "load-balancer"
		r.Tags = model.NewTags(svc.Labels)
		r.State = model.StateRunning
		r.Attributes["kind"] = "lb"
		r.Attributes["namespace"] = svc.Namespace
		r.Attributes["provisioned"] = strconv.FormatBool(len(svc.Status.LoadBalancer.Ingress) > 0)
		if ing := svc.Status.LoadBalancer.Ingress; len(ing) > 0 {
			if ing[0].Hostname != "" {
				r.Attributes["address"] = ing[0].Hostname
			} else {
				r.Attributes["address"] = ing[0].IP
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package azure

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/reservations/armreservations"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// VMClient is the subset of armcompute.VirtualMachinesClient used here.
type VMClient interface {
	NewListAllPager(options *armcompute.VirtualMachinesClientListAllOptions) *runtime.Pager[armcompute.VirtualMachinesClientListAllResponse]
	InstanceView(ctx context.Context, resourceGroupName, vmName string, options *armcompute.VirtualMachinesClientInstanceViewOptions) (armcompute.VirtualMachinesClientInstanceViewResponse, error)
}

type DiskClient interface {
	NewListPager(options *armcompute.DisksClientListOptions) *runtime.Pager[armcompute.DisksClientListResponse]
}

type PublicIPClient interface {
	NewListAllPager(options *armnetwork.PublicIPAddressesClientListAllOptions) *runtime.Pager[armnetwork.PublicIPAddressesClientListAllResponse]
}

type ReservationClient interface {
	NewListPager(options *armreservations.ReservationOrderClientListOptions) *runtime.Pager[armreservations.ReservationOrderClientListResponse]
}

type CostClient interface {
	Usage(ctx context.Context, scope string, parameters armcostmanagement.QueryDefinition, options *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error)
}

type SubscriptionClient interface {
	Get(ctx context.Context, subscriptionID string, options *armsubscriptions.ClientGetOptions) (armsubscriptions.ClientGetResponse, error)
}

// Clients holds the ARM clients for one subscription.
type Clients struct {
	VMs           VMClient
	Disks         DiskClient
	PublicIPs     PublicIPClient
	Reservations  ReservationClient
	Costs         CostClient
	Subscriptions SubscriptionClient
}

// NewClients builds the ARM clients for subscriptionID.
func NewClients(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*Clients, error) {
	vms, err := armcompute.NewVirtualMachinesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM client: %w", err)
	}
	disks, err := armcompute.NewDisksClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create disks client: %w", err)
	}
	ips, err := armnetwork.NewPublicIPAddressesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create public IP client: %w", err)
	}
	reservations, err := armreservations.NewReservationOrderClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservations client: %w", err)
	}
	costs, err := armcostmanagement.NewQueryClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client: %w", err)
	}
	subs, err := armsubscriptions.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	return &Clients{
		VMs:           vms,
		Disks:         disks,
		PublicIPs:     ips,
		Reservations:  reservations,
		Costs:         costs,
		Subscriptions: subs,
	}, nil
}

// costQueryPath is the one POST the scanner issues; the query is read-only.
const costQueryPath = "/providers/microsoft.costmanagement/query"

// readOnlyPolicy refuses any request that is not a read at the transport,
// underneath the guard's call-level check.
type readOnlyPolicy struct{}

func (readOnlyPolicy) Do(req *policy.Request) (*http.Response, error) {
	raw := req.Raw()
	switch {
	case raw.Method == http.MethodGet || raw.Method == http.MethodHead:
	case raw.Method == http.MethodPost && strings.HasSuffix(strings.ToLower(raw.URL.Path), costQueryPath):
	default:
		return nil, &model.SafetyViolation{
			Provider: model.ProviderAzure,
			Call:     raw.Method + " " + raw.URL.Path,
			Reason:   "HTTP method is not a read",
		}
	}
	return req.Next()
}

// clientOptions disables SDK retries, which belong to the scan engine.
func (a *Adapter) clientOptions() policy.ClientOptions {
	return policy.ClientOptions{
		PerCallPolicies: []policy.Policy{readOnlyPolicy{}},
		Retry:           policy.RetryOptions{MaxRetries: -1},
		Transport:       a.transport,
	}
}

func (a *Adapter) armOptions() *arm.ClientOptions {
	// resource provider registration issues a POST
	return &arm.ClientOptions{ClientOptions: a.clientOptions(), DisableRPRegistration: true}
}

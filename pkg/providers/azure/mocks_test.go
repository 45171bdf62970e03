package azure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/reservations/armreservations"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

// pagerOf serves pages in order. At least one page is required.
func pagerOf[T any](pages ...T) *runtime.Pager[T] {
	i := 0
	return runtime.NewPager(runtime.PagingHandler[T]{
		More: func(T) bool { return i < len(pages) },
		Fetcher: func(context.Context, *T) (T, error) {
			p := pages[i]
			i++
			return p, nil
		},
	})
}

func failingPager[T any](err error) *runtime.Pager[T] {
	return runtime.NewPager(runtime.PagingHandler[T]{
		More: func(T) bool { return false },
		Fetcher: func(context.Context, *T) (T, error) {
			var zero T
			return zero, err
		},
	})
}

// responseError builds the error azcore returns for a non-2xx response.
func responseError(status int, code string) error {
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  code,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    httptest.NewRequest(http.MethodGet, "https://management.azure.com/subscriptions/sub", nil),
		},
	}
}

type fakeVMs struct {
	vms     []*armcompute.VirtualMachine
	views   map[string][]*armcompute.InstanceViewStatus
	viewErr error
	listErr error
}

func (f *fakeVMs) NewListAllPager(*armcompute.VirtualMachinesClientListAllOptions) *runtime.Pager[armcompute.VirtualMachinesClientListAllResponse] {
	if f.listErr != nil {
		return failingPager[armcompute.VirtualMachinesClientListAllResponse](f.listErr)
	}
	return pagerOf(armcompute.VirtualMachinesClientListAllResponse{
		VirtualMachineListResult: armcompute.VirtualMachineListResult{Value: f.vms},
	})
}

func (f *fakeVMs) InstanceView(_ context.Context, _, vmName string, _ *armcompute.VirtualMachinesClientInstanceViewOptions) (armcompute.VirtualMachinesClientInstanceViewResponse, error) {
	if f.viewErr != nil {
		return armcompute.VirtualMachinesClientInstanceViewResponse{}, f.viewErr
	}
	return armcompute.VirtualMachinesClientInstanceViewResponse{
		VirtualMachineInstanceView: armcompute.VirtualMachineInstanceView{Statuses: f.views[vmName]},
	}, nil
}

type fakeDisks struct{ disks []*armcompute.Disk }

func (f *fakeDisks) NewListPager(*armcompute.DisksClientListOptions) *runtime.Pager[armcompute.DisksClientListResponse] {
	return pagerOf(armcompute.DisksClientListResponse{DiskList: armcompute.DiskList{Value: f.disks}})
}

type fakeIPs struct{ ips []*armnetwork.PublicIPAddress }

func (f *fakeIPs) NewListAllPager(*armnetwork.PublicIPAddressesClientListAllOptions) *runtime.Pager[armnetwork.PublicIPAddressesClientListAllResponse] {
	return pagerOf(armnetwork.PublicIPAddressesClientListAllResponse{
		PublicIPAddressListResult: armnetwork.PublicIPAddressListResult{Value: f.ips},
	})
}

type fakeReservations struct {
	orders []*armreservations.ReservationOrderResponse
}

func (f *fakeReservations) NewListPager(*armreservations.ReservationOrderClientListOptions) *runtime.Pager[armreservations.ReservationOrderClientListResponse] {
	return pagerOf(armreservations.ReservationOrderClientListResponse{
		ReservationOrderList: armreservations.ReservationOrderList{Value: f.orders},
	})
}

type fakeCosts struct {
	result armcostmanagement.QueryResult
	scope  string
	query  armcostmanagement.QueryDefinition
}

func (f *fakeCosts) Usage(_ context.Context, scope string, parameters armcostmanagement.QueryDefinition, _ *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error) {
	f.scope = scope
	f.query = parameters
	return armcostmanagement.QueryClientUsageResponse{QueryResult: f.result}, nil
}

type fakeSubscriptions struct {
	sub armsubscriptions.Subscription
	err error
}

func (f *fakeSubscriptions) Get(context.Context, string, *armsubscriptions.ClientGetOptions) (armsubscriptions.ClientGetResponse, error) {
	if f.err != nil {
		return armsubscriptions.ClientGetResponse{}, f.err
	}
	return armsubscriptions.ClientGetResponse{Subscription: f.sub}, nil
}

// fakeCredential issues a static bearer token.
type fakeCredential struct{}

func (fakeCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

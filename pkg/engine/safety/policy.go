package safety

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Sid      string   `json:"Sid"`
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// AzureRole is an Azure custom role definition.
type AzureRole struct {
	Name             string   `json:"Name"`
	IsCustom         bool     `json:"IsCustom"`
	Description      string   `json:"Description"`
	Actions          []string `json:"Actions"`
	NotActions       []string `json:"NotActions"`
	AssignableScopes []string `json:"AssignableScopes"`
}

// GCPRole is a GCP custom role definition.
type GCPRole struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Stage               string   `json:"stage"`
	IncludedPermissions []string `json:"includedPermissions"`
}

// Actions returns the sorted, deduplicated provider permissions for provider.
func Actions(provider string) []string {
	set := map[string]bool{}
	for _, p := range Catalog[provider] {
		if p.Action != "" {
			set[p.Action] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Policy renders the least-privilege grant for provider from the allow-list.
func Policy(provider string) ([]byte, error) {
	actions := Actions(provider)
	switch provider {
	case "aws":
		return json.MarshalIndent(PolicyDocument{
			Version: "2012-10-17",
			Statement: []Statement{{
				Sid:      "CloudMindReadOnly",
				Effect:   "Allow",
				Action:   actions,
				Resource: "*",
			}},
		}, "", "  ")
	case "azure":
		return json.MarshalIndent(AzureRole{
			Name:             "CloudMind Reader",
			IsCustom:         true,
			Description:      "Read-only access for the CloudMind cost scanner.",
			Actions:          actions,
			NotActions:       []string{},
			AssignableScopes: []string{"/subscriptions/{subscriptionId}"},
		}, "", "  ")
	case "gcp":
		return json.MarshalIndent(GCPRole{
			Title:               "CloudMind Reader",
			Description:         "Read-only access for the CloudMind cost scanner.",
			Stage:               "GA",
			IncludedPermissions: actions,
		}, "", "  ")
	case "kubernetes":
		return json.MarshalIndent(clusterRole(actions), "", "  ")
	case "mock":
		return json.MarshalIndent(Allowed(provider), "", "  ")
	}
	return nil, fmt.Errorf("no policy renderer for provider %q", provider)
}

// clusterRole turns "group/resource:verb,verb" actions into RBAC rules.
func clusterRole(actions []string) rbacv1.ClusterRole {
	role := rbacv1.ClusterRole{
		TypeMeta:   metav1.TypeMeta{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRole"},
		ObjectMeta: metav1.ObjectMeta{Name: "cloudmind-reader"},
	}
	for _, a := range actions {
		res, verbs, ok := strings.Cut(a, ":")
		if !ok {
			continue
		}
		group, resource, _ := strings.Cut(res, "/")
		role.Rules = append(role.Rules, rbacv1.PolicyRule{
			APIGroups: []string{group},
			Resources: []string{resource},
			Verbs:     strings.Split(verbs, ","),
		})
	}
	return role
}

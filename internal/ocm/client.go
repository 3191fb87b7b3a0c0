// Package ocm is the HTTP client for the cluster-management service: cluster
// discovery, upgrade policy CRUD for every policy variant, and version gate
// agreements. All calls are synchronous request/response; retry of whole
// reconcile cycles is the outer loop's job.
package ocm

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/labels"
	"resty.dev/v3"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

// Config holds the connection settings for the cluster-management service.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:    baseURL,
		Token:      token,
		Timeout:    10 * time.Second,
		RetryCount: 3,
	}
}

// Client talks to the cluster-management service.
type Client struct {
	client *resty.Client
}

// NewClient creates a client for the cluster-management service.
func NewClient(cfg Config) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Client{client: client}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.client.Close()
}

type clusterItem struct {
	ID                string            `json:"id"`
	ExternalID        string            `json:"externalId,omitempty"`
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	Channel           string            `json:"channel,omitempty"`
	AvailableUpgrades []string          `json:"availableUpgrades,omitempty"`
	Topology          string            `json:"topology,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
}

type clusterList struct {
	Items []clusterItem `json:"items"`
}

type policyItem struct {
	ID           string     `json:"id,omitempty"`
	Kind         string     `json:"kind"`
	Version      string     `json:"version"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	Schedule     string     `json:"schedule,omitempty"`
	ScheduleType string     `json:"scheduleType"`
	AddonID      string     `json:"addonId,omitempty"`
	NodePool     string     `json:"nodePool,omitempty"`
}

type policyList struct {
	Items []policyItem `json:"items"`
}

type gateItem struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	VersionPrefix string `json:"versionPrefix"`
	Topology      string `json:"topology,omitempty"`
}

type gateList struct {
	Items []gateItem `json:"items"`
}

type agreementItem struct {
	GateID string `json:"gateId"`
}

type agreementList struct {
	Items []agreementItem `json:"items"`
}

func apiError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: service returned status %d: %s", op, resp.StatusCode(), resp.String())
}

// ListClusters returns the clusters whose labels match the selector.
// Pagination is handled by the service behind the selector query.
func (c *Client) ListClusters(ctx context.Context, selector labels.Selector) ([]model.ClusterDetails, error) {
	var result clusterList

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("selector", selector.String()).
		SetResult(&result).
		Get("/api/fleet/v1/clusters")
	if err != nil || !resp.IsSuccess() {
		return nil, apiError("failed to list clusters", resp, err)
	}

	clusters := make([]model.ClusterDetails, 0, len(result.Items))
	for _, item := range result.Items {
		clusters = append(clusters, model.ClusterDetails{
			ID:                item.ID,
			ExternalID:        item.ExternalID,
			Name:              item.Name,
			Version:           item.Version,
			Channel:           item.Channel,
			AvailableUpgrades: item.AvailableUpgrades,
			Topology:          item.Topology,
			Labels:            item.Labels,
		})
	}

	return clusters, nil
}

func policyFromItem(clusterID string, item policyItem) model.UpgradePolicy {
	base := model.PolicyBase{
		ID:           item.ID,
		Cluster:      clusterID,
		Version:      item.Version,
		NextRun:      item.NextRun,
		Schedule:     item.Schedule,
		ScheduleType: item.ScheduleType,
	}

	switch model.PolicyKind(item.Kind) {
	case model.PolicyKindAddon:
		return &model.AddonUpgradePolicy{PolicyBase: base, AddonID: item.AddonID}
	case model.PolicyKindControlPlane:
		return &model.ControlPlaneUpgradePolicy{PolicyBase: base}
	case model.PolicyKindNodePool:
		return &model.NodePoolUpgradePolicy{PolicyBase: base, NodePool: item.NodePool}
	default:
		return &model.ClusterUpgradePolicy{PolicyBase: base}
	}
}

// GetUpgradePolicies returns the cluster-level upgrade policies (cluster,
// control-plane and node-pool variants) that currently exist for the cluster.
func (c *Client) GetUpgradePolicies(ctx context.Context, clusterID string) ([]model.UpgradePolicy, error) {
	var result policyList

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetPathParam("clusterID", clusterID).
		Get("/api/fleet/v1/clusters/{clusterID}/upgrade_policies")
	if err != nil || !resp.IsSuccess() {
		return nil, apiError(fmt.Sprintf("failed to get upgrade policies for cluster %s", clusterID), resp, err)
	}

	policies := make([]model.UpgradePolicy, 0, len(result.Items))
	for _, item := range result.Items {
		policies = append(policies, policyFromItem(clusterID, item))
	}

	return policies, nil
}

// GetAddonUpgradePolicies returns the addon upgrade policies that currently
// exist for the cluster.
func (c *Client) GetAddonUpgradePolicies(ctx context.Context, clusterID string) ([]model.UpgradePolicy, error) {
	var result policyList

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetPathParam("clusterID", clusterID).
		Get("/api/fleet/v1/clusters/{clusterID}/addon_upgrade_policies")
	if err != nil || !resp.IsSuccess() {
		return nil, apiError(fmt.Sprintf("failed to get addon upgrade policies for cluster %s", clusterID), resp, err)
	}

	policies := make([]model.UpgradePolicy, 0, len(result.Items))
	for _, item := range result.Items {
		policies = append(policies, policyFromItem(clusterID, item))
	}

	return policies, nil
}

func (c *Client) createPolicy(ctx context.Context, path, clusterID string, item policyItem) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParam("clusterID", clusterID).
		SetBody(item).
		Post(path)
	if err != nil || !resp.IsSuccess() {
		return apiError(fmt.Sprintf("failed to create %s upgrade policy for cluster %s", item.Kind, clusterID), resp, err)
	}
	return nil
}

func (c *Client) deletePolicy(ctx context.Context, path, clusterID, policyID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("clusterID", clusterID).
		SetPathParam("policyID", policyID).
		Delete(path)
	if err != nil || !resp.IsSuccess() {
		return apiError(fmt.Sprintf("failed to delete upgrade policy %s for cluster %s", policyID, clusterID), resp, err)
	}
	return nil
}

// CreateUpgradePolicy schedules a cluster upgrade.
func (c *Client) CreateUpgradePolicy(ctx context.Context, clusterID string, policy *model.ClusterUpgradePolicy) error {
	return c.createPolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/upgrade_policies", clusterID, policyItem{
		Kind:         string(model.PolicyKindCluster),
		Version:      policy.Version,
		NextRun:      policy.NextRun,
		Schedule:     policy.Schedule,
		ScheduleType: policy.ScheduleType,
	})
}

// DeleteUpgradePolicy removes a scheduled cluster upgrade.
func (c *Client) DeleteUpgradePolicy(ctx context.Context, clusterID, policyID string) error {
	return c.deletePolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/upgrade_policies/{policyID}", clusterID, policyID)
}

// CreateAddonUpgradePolicy schedules an addon upgrade.
func (c *Client) CreateAddonUpgradePolicy(ctx context.Context, clusterID string, policy *model.AddonUpgradePolicy) error {
	return c.createPolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/addon_upgrade_policies", clusterID, policyItem{
		Kind:         string(model.PolicyKindAddon),
		Version:      policy.Version,
		NextRun:      policy.NextRun,
		ScheduleType: policy.ScheduleType,
		AddonID:      policy.AddonID,
	})
}

// DeleteAddonUpgradePolicy removes a scheduled addon upgrade.
func (c *Client) DeleteAddonUpgradePolicy(ctx context.Context, clusterID, policyID string) error {
	return c.deletePolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/addon_upgrade_policies/{policyID}", clusterID, policyID)
}

// CreateControlPlaneUpgradePolicy schedules a hosted control plane upgrade.
func (c *Client) CreateControlPlaneUpgradePolicy(ctx context.Context, clusterID string, policy *model.ControlPlaneUpgradePolicy) error {
	return c.createPolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/control_plane_upgrade_policies", clusterID, policyItem{
		Kind:         string(model.PolicyKindControlPlane),
		Version:      policy.Version,
		NextRun:      policy.NextRun,
		ScheduleType: policy.ScheduleType,
	})
}

// DeleteControlPlaneUpgradePolicy removes a scheduled control plane upgrade.
func (c *Client) DeleteControlPlaneUpgradePolicy(ctx context.Context, clusterID, policyID string) error {
	return c.deletePolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/control_plane_upgrade_policies/{policyID}", clusterID, policyID)
}

// CreateNodePoolUpgradePolicy schedules a node pool upgrade.
func (c *Client) CreateNodePoolUpgradePolicy(ctx context.Context, clusterID string, policy *model.NodePoolUpgradePolicy) error {
	return c.createPolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/node_pool_upgrade_policies", clusterID, policyItem{
		Kind:         string(model.PolicyKindNodePool),
		Version:      policy.Version,
		NextRun:      policy.NextRun,
		ScheduleType: policy.ScheduleType,
		NodePool:     policy.NodePool,
	})
}

// DeleteNodePoolUpgradePolicy removes a scheduled node pool upgrade.
func (c *Client) DeleteNodePoolUpgradePolicy(ctx context.Context, clusterID, policyID string) error {
	return c.deletePolicy(ctx, "/api/fleet/v1/clusters/{clusterID}/node_pool_upgrade_policies/{policyID}", clusterID, policyID)
}

// GetVersionGates returns all version gates known to the service.
func (c *Client) GetVersionGates(ctx context.Context) ([]model.VersionGate, error) {
	var result gateList

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/fleet/v1/version_gates")
	if err != nil || !resp.IsSuccess() {
		return nil, apiError("failed to get version gates", resp, err)
	}

	gates := make([]model.VersionGate, 0, len(result.Items))
	for _, item := range result.Items {
		gates = append(gates, model.VersionGate{
			ID:            item.ID,
			Label:         item.Label,
			VersionPrefix: item.VersionPrefix,
			Topology:      item.Topology,
		})
	}

	return gates, nil
}

// GetVersionAgreements returns the ids of the gates the cluster has already
// agreed.
func (c *Client) GetVersionAgreements(ctx context.Context, clusterID string) ([]string, error) {
	var result agreementList

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetPathParam("clusterID", clusterID).
		Get("/api/fleet/v1/clusters/{clusterID}/gate_agreements")
	if err != nil || !resp.IsSuccess() {
		return nil, apiError(fmt.Sprintf("failed to get gate agreements for cluster %s", clusterID), resp, err)
	}

	agreed := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		agreed = append(agreed, item.GateID)
	}

	return agreed, nil
}

// CreateVersionAgreement records agreement with a version gate for a cluster.
func (c *Client) CreateVersionAgreement(ctx context.Context, gateID, clusterID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParam("clusterID", clusterID).
		SetBody(agreementItem{GateID: gateID}).
		Post("/api/fleet/v1/clusters/{clusterID}/gate_agreements")
	if err != nil || !resp.IsSuccess() {
		return apiError(fmt.Sprintf("failed to create gate agreement for cluster %s", clusterID), resp, err)
	}
	return nil
}

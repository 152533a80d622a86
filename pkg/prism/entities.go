package prism

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// statUnavailable is the sentinel Prism reports for stats it cannot
// compute, e.g. controller stats on a powered-off VM.
const statUnavailable = -1

// StatMap holds the sparse stats/usage_stats maps the v2.0 API attaches to
// entities. Values arrive as numbers or quoted numeric strings; entries
// valued -1 mean "not available" and are dropped so lookups report them as
// absent instead of zero.
type StatMap map[string]float64

// UnmarshalJSON decodes a stats object, accepting both bare and quoted
// numbers and discarding unavailable entries.
func (m *StatMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(StatMap, len(raw))
	for key, value := range raw {
		var s string
		switch v := value.(type) {
		case json.Number:
			s = v.String()
		case string:
			s = v
		default:
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		if f == statUnavailable {
			continue
		}
		out[key] = f
	}
	*m = out
	return nil
}

// Get returns the stat value and whether it is available.
func (m StatMap) Get(key string) (float64, bool) {
	v, ok := m[key]
	return v, ok
}

// VM is a virtual machine from the v2.0 vms listing
type VM struct {
	UUID              string   `json:"uuid"`
	Name              string   `json:"name"`
	PowerState        string   `json:"power_state"`
	NumVCPUs          int      `json:"num_vcpus"`
	MemoryMB          int64    `json:"memory_mb"`
	DiskCapacityBytes int64    `json:"disk_capacity_bytes"`
	HostUUID          string   `json:"host_uuid"`
	ClusterUUID       string   `json:"cluster_uuid"`
	IPAddresses       []string `json:"ip_addresses"`
	Stats             StatMap  `json:"stats"`
	UsageStats        StatMap  `json:"usage_stats"`
}

// Host is a hypervisor node from the v2.0 hosts listing
type Host struct {
	UUID                string  `json:"uuid"`
	Name                string  `json:"name"`
	ClusterUUID         string  `json:"cluster_uuid"`
	State               string  `json:"state"`
	HypervisorType      string  `json:"hypervisor_type"`
	NumCPUCores         int     `json:"num_cpu_cores"`
	NumCPUSockets       int     `json:"num_cpu_sockets"`
	MemoryCapacityBytes int64   `json:"memory_capacity_in_bytes"`
	NumVMs              int     `json:"num_vms"`
	Stats               StatMap `json:"stats"`
	UsageStats          StatMap `json:"usage_stats"`
}

// Cluster is a cluster from the v2.0 clusters listing
type Cluster struct {
	UUID        string  `json:"uuid"`
	Name        string  `json:"name"`
	NumNodes    int     `json:"num_nodes"`
	Version     string  `json:"version"`
	IsAvailable bool    `json:"is_available"`
	Stats       StatMap `json:"stats"`
	UsageStats  StatMap `json:"usage_stats"`
}

// StorageContainer is a storage container from the v2.0 listing
type StorageContainer struct {
	UUID               string  `json:"uuid"`
	Name               string  `json:"name"`
	ClusterUUID        string  `json:"cluster_uuid"`
	ReplicationFactor  int     `json:"replication_factor"`
	CompressionEnabled bool    `json:"compression_enabled"`
	MaxCapacity        int64   `json:"max_capacity"`
	Stats              StatMap `json:"stats"`
	UsageStats         StatMap `json:"usage_stats"`
}

// Alert is an unresolved alert from the v2.0 alerts listing
type Alert struct {
	UUID             string `json:"uuid"`
	Title            string `json:"alert_title"`
	Severity         string `json:"severity"`
	Resolved         bool   `json:"resolved"`
	Acknowledged     bool   `json:"acknowledged"`
	CreatedTimeUsecs int64  `json:"created_time_stamp_in_usecs"`
	EntityType       string `json:"entity_type"`
	EntityUUID       string `json:"entity_uuid"`
}

// ListMetadata is the paging envelope the v2.0 list endpoints return
type ListMetadata struct {
	TotalEntities int `json:"total_entities"`
	Count         int `json:"count"`
	Offset        int `json:"start_index"`
	Length        int `json:"length"`
}

// Inventory is one complete poll of a Prism target. Slices for entity
// kinds that were not collected stay nil.
type Inventory struct {
	VMs         []VM
	Hosts       []Host
	Clusters    []Cluster
	Containers  []StorageContainer
	Alerts      []Alert
	RetrievedAt time.Time
}

// FetchOptions selects the entity kinds FetchInventory retrieves
type FetchOptions struct {
	VMs        bool
	Hosts      bool
	Clusters   bool
	Containers bool
	Alerts     bool
}

// FetchAll enables every entity kind
func FetchAll() FetchOptions {
	return FetchOptions{VMs: true, Hosts: true, Clusters: true, Containers: true, Alerts: true}
}

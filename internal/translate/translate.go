// Package translate converts Prism inventory snapshots into metric samples.
//
// Translation is pure: the same inventory always yields the same sorted
// sample set. Values come only from fields the API actually returned, and
// unit normalization (ppm to percent, microseconds to milliseconds) happens
// here so every consumer sees final values.
package translate

import (
	"sort"

	"github.com/prismflow/nutanix-exporter/internal/metrics"
	"github.com/prismflow/nutanix-exporter/pkg/prism"
)

// Options controls a translation pass.
type Options struct {
	// ExtraLabels are merged into every emitted sample. Entity labels win
	// on a name collision so series identity stays intact.
	ExtraLabels map[string]string
}

// Stats reports what the translator had to work around while emitting.
type Stats struct {
	// JoinMisses counts entities that referenced a cluster or host UUID
	// absent from the same inventory. Their samples carry the raw UUID as
	// the label value instead of a name.
	JoinMisses int

	// Duplicates counts samples dropped because a sample with the same
	// series identity was already emitted.
	Duplicates int
}

// statMapping ties one sparse stat key to a metric family. Keys keep the
// exact casing Prism uses, including the kBps suffix.
type statMapping struct {
	key     string
	name    string
	help    string
	convert func(float64) float64
}

func ppmToPercent(v float64) float64 { return v / 10000 }

func usecsToMillis(v float64) float64 { return v / 1000 }

var vmStatMappings = []statMapping{
	{"hypervisor_cpu_usage_ppm", "nutanix_vm_cpu_usage_percent", "CPU usage percent of the VM.", ppmToPercent},
	{"hypervisor_memory_usage_ppm", "nutanix_vm_memory_usage_percent", "Memory usage percent of the VM.", ppmToPercent},
	{"controller_num_iops", "nutanix_vm_iops", "I/O operations per second of the VM.", nil},
	{"controller_avg_io_latency_usecs", "nutanix_vm_io_latency_ms", "Average I/O latency of the VM in milliseconds.", usecsToMillis},
	{"controller_io_bandwidth_kBps", "nutanix_vm_io_bandwidth_kbps", "Total I/O bandwidth of the VM in kilobytes per second.", nil},
	{"controller_read_io_bandwidth_kBps", "nutanix_vm_read_bandwidth_kbps", "Read bandwidth of the VM in kilobytes per second.", nil},
	{"controller_write_io_bandwidth_kBps", "nutanix_vm_write_bandwidth_kbps", "Write bandwidth of the VM in kilobytes per second.", nil},
	{"hypervisor_network_io_bandwidth_kBps", "nutanix_vm_network_bandwidth_kbps", "Network bandwidth of the VM in kilobytes per second.", nil},
}

var hostStatMappings = []statMapping{
	{"hypervisor_cpu_usage_ppm", "nutanix_host_cpu_usage_percent", "CPU usage percent of the host.", ppmToPercent},
	{"hypervisor_memory_usage_ppm", "nutanix_host_memory_usage_percent", "Memory usage percent of the host.", ppmToPercent},
	{"controller_num_iops", "nutanix_host_iops", "I/O operations per second served by the host.", nil},
	{"controller_avg_io_latency_usecs", "nutanix_host_io_latency_ms", "Average I/O latency on the host in milliseconds.", usecsToMillis},
	{"controller_io_bandwidth_kBps", "nutanix_host_io_bandwidth_kbps", "Total I/O bandwidth on the host in kilobytes per second.", nil},
	{"content_cache_hit_ppm", "nutanix_host_cache_hit_percent", "Content cache hit rate of the host in percent.", ppmToPercent},
}

var clusterStatMappings = []statMapping{
	{"hypervisor_cpu_usage_ppm", "nutanix_cluster_cpu_usage_percent", "CPU usage percent across the cluster.", ppmToPercent},
	{"hypervisor_memory_usage_ppm", "nutanix_cluster_memory_usage_percent", "Memory usage percent across the cluster.", ppmToPercent},
	{"controller_num_iops", "nutanix_cluster_iops", "I/O operations per second across the cluster.", nil},
	{"controller_avg_io_latency_usecs", "nutanix_cluster_io_latency_ms", "Average I/O latency across the cluster in milliseconds.", usecsToMillis},
	{"controller_io_bandwidth_kBps", "nutanix_cluster_io_bandwidth_kbps", "Total I/O bandwidth across the cluster in kilobytes per second.", nil},
	{"storage.capacity_bytes", "nutanix_cluster_storage_capacity_bytes", "Total storage capacity of the cluster in bytes.", nil},
	{"storage.usage_bytes", "nutanix_cluster_storage_usage_bytes", "Used storage of the cluster in bytes.", nil},
}

// Translate converts an inventory into a sorted, deduplicated sample set.
// Entity kinds with a nil slice were not collected and emit nothing, not
// even derived series such as per-cluster VM counts or alert zero buckets.
func Translate(inv *prism.Inventory, opts Options) ([]metrics.Sample, Stats) {
	if inv == nil {
		return nil, Stats{}
	}

	t := &translator{
		inv:          inv,
		extras:       opts.ExtraLabels,
		clusterNames: make(map[string]string, len(inv.Clusters)),
		hostNames:    make(map[string]string, len(inv.Hosts)),
	}
	for _, cluster := range inv.Clusters {
		t.clusterNames[cluster.UUID] = cluster.Name
	}
	for _, host := range inv.Hosts {
		t.hostNames[host.UUID] = host.Name
	}

	t.translateClusters()
	t.translateHosts()
	t.translateVMs()
	t.translateContainers()
	t.translateAlerts()

	metrics.Sort(t.samples)
	samples, dropped := metrics.Dedupe(t.samples)
	t.stats.Duplicates = dropped
	return samples, t.stats
}

type translator struct {
	inv          *prism.Inventory
	extras       map[string]string
	clusterNames map[string]string
	hostNames    map[string]string
	samples      []metrics.Sample
	stats        Stats
}

func (t *translator) translateClusters() {
	var vmCounts map[string]int
	if t.inv.VMs != nil {
		vmCounts = make(map[string]int, len(t.inv.Clusters))
		for _, vm := range t.inv.VMs {
			vmCounts[vm.ClusterUUID]++
		}
	}

	for _, cluster := range t.inv.Clusters {
		labels := map[string]string{
			"cluster":      cluster.Name,
			"cluster_uuid": cluster.UUID,
			"version":      cluster.Version,
		}

		available := 0.0
		if cluster.IsAvailable {
			available = 1.0
		}

		t.emit(metrics.NewGauge("nutanix_cluster_available", "Whether the cluster reports itself available (1) or not (0).", available), labels)
		t.emit(metrics.NewGauge("nutanix_cluster_nodes", "Number of nodes in the cluster.", float64(cluster.NumNodes)), labels)
		t.emitStats(cluster.Stats, cluster.UsageStats, clusterStatMappings, labels)

		if vmCounts != nil {
			t.emit(metrics.NewGauge("nutanix_cluster_vms", "Number of VMs placed on the cluster.", float64(vmCounts[cluster.UUID])), labels)
		}
	}
}

func (t *translator) translateHosts() {
	for _, host := range t.inv.Hosts {
		labels := map[string]string{
			"host_uuid":  host.UUID,
			"host_name":  host.Name,
			"hypervisor": host.HypervisorType,
			"state":      host.State,
			"cluster":    t.clusterName(host.ClusterUUID),
		}

		healthy := 0.0
		if host.State == "NORMAL" {
			healthy = 1.0
		}

		t.emit(metrics.NewGauge("nutanix_host_healthy", "Whether the host is in NORMAL state (1) or not (0).", healthy), labels)
		t.emit(metrics.NewGauge("nutanix_host_cpu_cores", "Number of physical CPU cores on the host.", float64(host.NumCPUCores)), labels)
		t.emit(metrics.NewGauge("nutanix_host_cpu_sockets", "Number of CPU sockets on the host.", float64(host.NumCPUSockets)), labels)
		t.emit(metrics.NewGauge("nutanix_host_memory_capacity_bytes", "Physical memory of the host in bytes.", float64(host.MemoryCapacityBytes)), labels)
		t.emit(metrics.NewGauge("nutanix_host_vms", "Number of VMs running on the host.", float64(host.NumVMs)), labels)
		t.emitStats(host.Stats, host.UsageStats, hostStatMappings, labels)
	}
}

func (t *translator) translateVMs() {
	for _, vm := range t.inv.VMs {
		labels := map[string]string{
			"vm_uuid":     vm.UUID,
			"vm_name":     vm.Name,
			"power_state": vm.PowerState,
			"cluster":     t.clusterName(vm.ClusterUUID),
			"node":        t.hostName(vm.HostUUID),
		}

		poweredOn := 0.0
		if vm.PowerState == "on" {
			poweredOn = 1.0
		}

		t.emit(metrics.NewGauge("nutanix_vm_power_state", "Whether the VM is powered on (1) or not (0).", poweredOn), labels)
		t.emit(metrics.NewGauge("nutanix_vm_vcpus", "Number of vCPUs assigned to the VM.", float64(vm.NumVCPUs)), labels)
		t.emit(metrics.NewGauge("nutanix_vm_memory_mb", "Memory assigned to the VM in megabytes.", float64(vm.MemoryMB)), labels)
		t.emit(metrics.NewGauge("nutanix_vm_disk_capacity_bytes", "Total disk capacity assigned to the VM in bytes.", float64(vm.DiskCapacityBytes)), labels)
		t.emitStats(vm.Stats, vm.UsageStats, vmStatMappings, labels)
	}
}

func (t *translator) translateContainers() {
	for _, container := range t.inv.Containers {
		labels := map[string]string{
			"container_uuid": container.UUID,
			"container_name": container.Name,
			"cluster":        t.clusterName(container.ClusterUUID),
		}

		compression := 0.0
		if container.CompressionEnabled {
			compression = 1.0
		}

		t.emit(metrics.NewGauge("nutanix_storage_container_capacity_bytes", "Provisioned capacity of the storage container in bytes.", float64(container.MaxCapacity)), labels)
		t.emit(metrics.NewGauge("nutanix_storage_container_replication_factor", "Replication factor of the storage container.", float64(container.ReplicationFactor)), labels)
		t.emit(metrics.NewGauge("nutanix_storage_container_compression_enabled", "Whether compression is enabled on the container (1) or not (0).", compression), labels)

		usage, ok := lookupStat(container.Stats, container.UsageStats, "storage.usage_bytes")
		if !ok {
			continue
		}
		t.emit(metrics.NewGauge("nutanix_storage_container_usage_bytes", "Used capacity of the storage container in bytes.", usage), labels)
		if container.MaxCapacity > 0 {
			t.emit(metrics.NewGauge("nutanix_storage_container_usage_percent", "Used share of the storage container capacity in percent.", usage/float64(container.MaxCapacity)*100), labels)
		}
	}
}

func (t *translator) translateAlerts() {
	if t.inv.Alerts == nil {
		return
	}

	// The standard severities are always present so dashboards see an
	// explicit zero when a bucket empties.
	counts := map[string]int{
		"kCritical": 0,
		"kWarning":  0,
		"kInfo":     0,
	}
	for _, alert := range t.inv.Alerts {
		counts[alert.Severity]++
	}

	for severity, count := range counts {
		t.emit(metrics.NewGauge("nutanix_alerts_active", "Number of unresolved alerts by severity.", float64(count)),
			map[string]string{"severity": severity})
	}
	t.emit(metrics.NewGauge("nutanix_alerts_active_total", "Total number of unresolved alerts.", float64(len(t.inv.Alerts))), nil)
}

func (t *translator) emitStats(stats, usage prism.StatMap, mappings []statMapping, labels map[string]string) {
	for _, m := range mappings {
		v, ok := lookupStat(stats, usage, m.key)
		if !ok {
			continue
		}
		if m.convert != nil {
			v = m.convert(v)
		}
		t.emit(metrics.NewGauge(m.name, m.help, v), labels)
	}
}

func (t *translator) emit(s metrics.Sample, labels map[string]string) {
	merged := make(map[string]string, len(t.extras)+len(labels))
	for k, v := range t.extras {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	t.samples = append(t.samples, s.WithLabels(merged))
}

func (t *translator) clusterName(uuid string) string {
	if uuid == "" {
		return ""
	}
	if name, ok := t.clusterNames[uuid]; ok {
		return name
	}
	t.stats.JoinMisses++
	return uuid
}

func (t *translator) hostName(uuid string) string {
	if uuid == "" {
		return ""
	}
	if name, ok := t.hostNames[uuid]; ok {
		return name
	}
	t.stats.JoinMisses++
	return uuid
}

// lookupStat checks stats first, then usage_stats. Prism reports some keys
// in either map depending on entity kind and AOS version.
func lookupStat(stats, usage prism.StatMap, key string) (float64, bool) {
	if v, ok := stats.Get(key); ok {
		return v, true
	}
	return usage.Get(key)
}

// Family identifies one metric family the translator can emit.
type Family struct {
	Name string
	Help string
}

// entityFamilies lists the families fed from entity fields rather than
// stat maps. Names and help texts must match the emit calls above; the
// catalog test keeps them in sync.
var entityFamilies = []Family{
	{"nutanix_cluster_available", "Whether the cluster reports itself available (1) or not (0)."},
	{"nutanix_cluster_nodes", "Number of nodes in the cluster."},
	{"nutanix_cluster_vms", "Number of VMs placed on the cluster."},
	{"nutanix_host_healthy", "Whether the host is in NORMAL state (1) or not (0)."},
	{"nutanix_host_cpu_cores", "Number of physical CPU cores on the host."},
	{"nutanix_host_cpu_sockets", "Number of CPU sockets on the host."},
	{"nutanix_host_memory_capacity_bytes", "Physical memory of the host in bytes."},
	{"nutanix_host_vms", "Number of VMs running on the host."},
	{"nutanix_vm_power_state", "Whether the VM is powered on (1) or not (0)."},
	{"nutanix_vm_vcpus", "Number of vCPUs assigned to the VM."},
	{"nutanix_vm_memory_mb", "Memory assigned to the VM in megabytes."},
	{"nutanix_vm_disk_capacity_bytes", "Total disk capacity assigned to the VM in bytes."},
	{"nutanix_storage_container_capacity_bytes", "Provisioned capacity of the storage container in bytes."},
	{"nutanix_storage_container_usage_bytes", "Used capacity of the storage container in bytes."},
	{"nutanix_storage_container_usage_percent", "Used share of the storage container capacity in percent."},
	{"nutanix_storage_container_replication_factor", "Replication factor of the storage container."},
	{"nutanix_storage_container_compression_enabled", "Whether compression is enabled on the container (1) or not (0)."},
	{"nutanix_alerts_active", "Number of unresolved alerts by severity."},
	{"nutanix_alerts_active_total", "Total number of unresolved alerts."},
}

// Catalog lists every metric family the translator can emit, sorted by
// name. Consumers that must declare instruments up front, such as the
// OTLP forwarder, build them from this list.
func Catalog() []Family {
	families := make([]Family, 0, len(entityFamilies)+len(vmStatMappings)+len(hostStatMappings)+len(clusterStatMappings))
	families = append(families, entityFamilies...)
	for _, mappings := range [][]statMapping{vmStatMappings, hostStatMappings, clusterStatMappings} {
		for _, m := range mappings {
			families = append(families, Family{Name: m.name, Help: m.help})
		}
	}
	sort.Slice(families, func(i, j int) bool { return families[i].Name < families[j].Name })
	return families
}

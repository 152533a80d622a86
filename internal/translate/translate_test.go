package translate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismflow/nutanix-exporter/internal/metrics"
	"github.com/prismflow/nutanix-exporter/internal/translate"
	"github.com/prismflow/nutanix-exporter/pkg/prism"
)

func findSamples(samples []metrics.Sample, name string) []metrics.Sample {
	var out []metrics.Sample
	for _, s := range samples {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func testInventory() *prism.Inventory {
	return &prism.Inventory{
		Clusters: []prism.Cluster{
			{
				UUID:        "cl-1",
				Name:        "cluster-a",
				NumNodes:    3,
				Version:     "6.8",
				IsAvailable: true,
				Stats: prism.StatMap{
					"hypervisor_cpu_usage_ppm": 250000,
				},
				UsageStats: prism.StatMap{
					"storage.capacity_bytes": 4000,
					"storage.usage_bytes":    1000,
				},
			},
		},
		Hosts: []prism.Host{
			{
				UUID:                "h-1",
				Name:                "node-01",
				ClusterUUID:         "cl-1",
				State:               "NORMAL",
				HypervisorType:      "kKvm",
				NumCPUCores:         32,
				NumCPUSockets:       2,
				MemoryCapacityBytes: 1 << 36,
				NumVMs:              2,
				Stats: prism.StatMap{
					"content_cache_hit_ppm":           990000,
					"controller_avg_io_latency_usecs": 1500,
				},
			},
		},
		VMs: []prism.VM{
			{
				UUID:        "vm-1",
				Name:        "web-01",
				PowerState:  "on",
				NumVCPUs:    4,
				MemoryMB:    8192,
				HostUUID:    "h-1",
				ClusterUUID: "cl-1",
				Stats: prism.StatMap{
					"hypervisor_cpu_usage_ppm": 100000,
				},
			},
			{
				UUID:        "vm-2",
				Name:        "db-01",
				PowerState:  "on",
				NumVCPUs:    8,
				MemoryMB:    32768,
				HostUUID:    "h-1",
				ClusterUUID: "cl-1",
				Stats: prism.StatMap{
					"hypervisor_cpu_usage_ppm": 550000,
				},
			},
		},
		Containers: []prism.StorageContainer{
			{
				UUID:              "sc-1",
				Name:              "default-container",
				ClusterUUID:       "cl-1",
				ReplicationFactor: 2,
				MaxCapacity:       2000,
				UsageStats: prism.StatMap{
					"storage.usage_bytes": 500,
				},
			},
		},
		Alerts: []prism.Alert{
			{UUID: "al-1", Title: "CVM rebooted", Severity: "kWarning"},
			{UUID: "al-2", Title: "Disk failed", Severity: "kCritical"},
			{UUID: "al-3", Title: "Disk degraded", Severity: "kCritical"},
		},
	}
}

func TestTranslateVMs(t *testing.T) {
	t.Run("should convert cpu usage ppm to percent per VM", func(t *testing.T) {
		samples, stats := translate.Translate(testInventory(), translate.Options{})

		cpu := findSamples(samples, "nutanix_vm_cpu_usage_percent")
		require.Len(t, cpu, 2)
		assert.Equal(t, 0, stats.JoinMisses)

		byName := make(map[string]float64)
		for _, s := range cpu {
			name, ok := s.Label("vm_name")
			require.True(t, ok)
			byName[name] = s.Value

			cluster, ok := s.Label("cluster")
			require.True(t, ok)
			assert.Equal(t, "cluster-a", cluster)

			node, ok := s.Label("node")
			require.True(t, ok)
			assert.Equal(t, "node-01", node)

			assert.Equal(t, metrics.KindGauge, s.Kind)
		}
		assert.Equal(t, 10.0, byName["web-01"])
		assert.Equal(t, 55.0, byName["db-01"])
	})

	t.Run("should emit entity gauges for every VM", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		power := findSamples(samples, "nutanix_vm_power_state")
		require.Len(t, power, 2)
		for _, s := range power {
			assert.Equal(t, 1.0, s.Value)
		}

		vcpus := findSamples(samples, "nutanix_vm_vcpus")
		require.Len(t, vcpus, 2)
		memory := findSamples(samples, "nutanix_vm_memory_mb")
		require.Len(t, memory, 2)
	})

	t.Run("should report powered off VMs as zero", func(t *testing.T) {
		inv := &prism.Inventory{
			VMs: []prism.VM{{UUID: "vm-1", Name: "idle-01", PowerState: "off"}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		power := findSamples(samples, "nutanix_vm_power_state")
		require.Len(t, power, 1)
		assert.Equal(t, 0.0, power[0].Value)

		state, ok := power[0].Label("power_state")
		require.True(t, ok)
		assert.Equal(t, "off", state)
	})

	t.Run("should not fabricate samples for absent stat keys", func(t *testing.T) {
		inv := &prism.Inventory{
			VMs: []prism.VM{{
				UUID:       "vm-1",
				Name:       "web-01",
				PowerState: "on",
				Stats:      prism.StatMap{"hypervisor_cpu_usage_ppm": 80000},
			}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		assert.Len(t, findSamples(samples, "nutanix_vm_cpu_usage_percent"), 1)
		assert.Empty(t, findSamples(samples, "nutanix_vm_iops"))
		assert.Empty(t, findSamples(samples, "nutanix_vm_io_latency_ms"))
		assert.Empty(t, findSamples(samples, "nutanix_vm_memory_usage_percent"))
	})
}

func TestTranslateJoins(t *testing.T) {
	t.Run("should fall back to raw UUIDs and count misses", func(t *testing.T) {
		inv := &prism.Inventory{
			VMs: []prism.VM{{
				UUID:        "vm-1",
				Name:        "orphan-01",
				PowerState:  "on",
				HostUUID:    "h-gone",
				ClusterUUID: "cl-gone",
			}},
		}
		samples, stats := translate.Translate(inv, translate.Options{})

		power := findSamples(samples, "nutanix_vm_power_state")
		require.Len(t, power, 1)

		cluster, _ := power[0].Label("cluster")
		assert.Equal(t, "cl-gone", cluster)
		node, _ := power[0].Label("node")
		assert.Equal(t, "h-gone", node)
		assert.Equal(t, 2, stats.JoinMisses)
	})

	t.Run("should not count empty references as misses", func(t *testing.T) {
		inv := &prism.Inventory{
			VMs: []prism.VM{{UUID: "vm-1", Name: "detached-01", PowerState: "off"}},
		}
		samples, stats := translate.Translate(inv, translate.Options{})

		power := findSamples(samples, "nutanix_vm_power_state")
		require.Len(t, power, 1)

		cluster, ok := power[0].Label("cluster")
		require.True(t, ok)
		assert.Empty(t, cluster)
		assert.Equal(t, 0, stats.JoinMisses)
	})
}

func TestTranslateClusters(t *testing.T) {
	t.Run("should emit cluster gauges with joined labels", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		available := findSamples(samples, "nutanix_cluster_available")
		require.Len(t, available, 1)
		assert.Equal(t, 1.0, available[0].Value)

		name, _ := available[0].Label("cluster")
		assert.Equal(t, "cluster-a", name)
		version, _ := available[0].Label("version")
		assert.Equal(t, "6.8", version)

		nodes := findSamples(samples, "nutanix_cluster_nodes")
		require.Len(t, nodes, 1)
		assert.Equal(t, 3.0, nodes[0].Value)

		cpu := findSamples(samples, "nutanix_cluster_cpu_usage_percent")
		require.Len(t, cpu, 1)
		assert.Equal(t, 25.0, cpu[0].Value)
	})

	t.Run("should read storage totals from usage stats", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		capacity := findSamples(samples, "nutanix_cluster_storage_capacity_bytes")
		require.Len(t, capacity, 1)
		assert.Equal(t, 4000.0, capacity[0].Value)

		usage := findSamples(samples, "nutanix_cluster_storage_usage_bytes")
		require.Len(t, usage, 1)
		assert.Equal(t, 1000.0, usage[0].Value)
	})

	t.Run("should derive VM counts only when VMs were collected", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})
		vms := findSamples(samples, "nutanix_cluster_vms")
		require.Len(t, vms, 1)
		assert.Equal(t, 2.0, vms[0].Value)

		inv := testInventory()
		inv.VMs = nil
		samples, _ = translate.Translate(inv, translate.Options{})
		assert.Empty(t, findSamples(samples, "nutanix_cluster_vms"))

		inv.VMs = []prism.VM{}
		samples, _ = translate.Translate(inv, translate.Options{})
		vms = findSamples(samples, "nutanix_cluster_vms")
		require.Len(t, vms, 1)
		assert.Equal(t, 0.0, vms[0].Value)
	})
}

func TestTranslateHosts(t *testing.T) {
	t.Run("should emit host gauges with unit conversions", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		healthy := findSamples(samples, "nutanix_host_healthy")
		require.Len(t, healthy, 1)
		assert.Equal(t, 1.0, healthy[0].Value)

		state, _ := healthy[0].Label("state")
		assert.Equal(t, "NORMAL", state)
		hypervisor, _ := healthy[0].Label("hypervisor")
		assert.Equal(t, "kKvm", hypervisor)

		cacheHit := findSamples(samples, "nutanix_host_cache_hit_percent")
		require.Len(t, cacheHit, 1)
		assert.Equal(t, 99.0, cacheHit[0].Value)

		latency := findSamples(samples, "nutanix_host_io_latency_ms")
		require.Len(t, latency, 1)
		assert.Equal(t, 1.5, latency[0].Value)

		vms := findSamples(samples, "nutanix_host_vms")
		require.Len(t, vms, 1)
		assert.Equal(t, 2.0, vms[0].Value)
	})

	t.Run("should report non-NORMAL hosts as unhealthy", func(t *testing.T) {
		inv := &prism.Inventory{
			Hosts: []prism.Host{{UUID: "h-1", Name: "node-01", State: "DEGRADED"}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		healthy := findSamples(samples, "nutanix_host_healthy")
		require.Len(t, healthy, 1)
		assert.Equal(t, 0.0, healthy[0].Value)
	})
}

func TestTranslateContainers(t *testing.T) {
	t.Run("should derive usage percent from capacity", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		usage := findSamples(samples, "nutanix_storage_container_usage_bytes")
		require.Len(t, usage, 1)
		assert.Equal(t, 500.0, usage[0].Value)

		percent := findSamples(samples, "nutanix_storage_container_usage_percent")
		require.Len(t, percent, 1)
		assert.Equal(t, 25.0, percent[0].Value)

		cluster, _ := percent[0].Label("cluster")
		assert.Equal(t, "cluster-a", cluster)
	})

	t.Run("should skip usage series when the stat is missing", func(t *testing.T) {
		inv := &prism.Inventory{
			Containers: []prism.StorageContainer{{
				UUID:        "sc-1",
				Name:        "empty-container",
				MaxCapacity: 2000,
			}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		assert.Len(t, findSamples(samples, "nutanix_storage_container_capacity_bytes"), 1)
		assert.Empty(t, findSamples(samples, "nutanix_storage_container_usage_bytes"))
		assert.Empty(t, findSamples(samples, "nutanix_storage_container_usage_percent"))
	})

	t.Run("should skip usage percent when capacity is unset", func(t *testing.T) {
		inv := &prism.Inventory{
			Containers: []prism.StorageContainer{{
				UUID:       "sc-1",
				Name:       "unbounded-container",
				UsageStats: prism.StatMap{"storage.usage_bytes": 500},
			}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		assert.Len(t, findSamples(samples, "nutanix_storage_container_usage_bytes"), 1)
		assert.Empty(t, findSamples(samples, "nutanix_storage_container_usage_percent"))
	})
}

func TestTranslateAlerts(t *testing.T) {
	t.Run("should count alerts by severity with zero-filled buckets", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{})

		active := findSamples(samples, "nutanix_alerts_active")
		require.Len(t, active, 3)

		bySeverity := make(map[string]float64)
		for _, s := range active {
			severity, ok := s.Label("severity")
			require.True(t, ok)
			bySeverity[severity] = s.Value
		}
		assert.Equal(t, 2.0, bySeverity["kCritical"])
		assert.Equal(t, 1.0, bySeverity["kWarning"])
		assert.Equal(t, 0.0, bySeverity["kInfo"])

		total := findSamples(samples, "nutanix_alerts_active_total")
		require.Len(t, total, 1)
		assert.Equal(t, 3.0, total[0].Value)
		assert.Empty(t, total[0].Labels)
	})

	t.Run("should add buckets for unexpected severities", func(t *testing.T) {
		inv := &prism.Inventory{
			Alerts: []prism.Alert{{UUID: "al-1", Severity: "kAudit"}},
		}
		samples, _ := translate.Translate(inv, translate.Options{})

		active := findSamples(samples, "nutanix_alerts_active")
		require.Len(t, active, 4)
	})

	t.Run("should emit nothing when alerts were not collected", func(t *testing.T) {
		inv := testInventory()
		inv.Alerts = nil
		samples, _ := translate.Translate(inv, translate.Options{})

		assert.Empty(t, findSamples(samples, "nutanix_alerts_active"))
		assert.Empty(t, findSamples(samples, "nutanix_alerts_active_total"))
	})

	t.Run("should emit zero buckets for an empty alert list", func(t *testing.T) {
		inv := testInventory()
		inv.Alerts = []prism.Alert{}
		samples, _ := translate.Translate(inv, translate.Options{})

		active := findSamples(samples, "nutanix_alerts_active")
		require.Len(t, active, 3)
		for _, s := range active {
			assert.Equal(t, 0.0, s.Value)
		}

		total := findSamples(samples, "nutanix_alerts_active_total")
		require.Len(t, total, 1)
		assert.Equal(t, 0.0, total[0].Value)
	})
}

func TestTranslateExtraLabels(t *testing.T) {
	t.Run("should merge extra labels into every sample", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{
			ExtraLabels: map[string]string{"site": "fra1"},
		})
		require.NotEmpty(t, samples)

		for _, s := range samples {
			site, ok := s.Label("site")
			require.True(t, ok, "sample %s is missing the extra label", s.Name)
			assert.Equal(t, "fra1", site)
		}
	})

	t.Run("should let entity labels win on collision", func(t *testing.T) {
		samples, _ := translate.Translate(testInventory(), translate.Options{
			ExtraLabels: map[string]string{"cluster": "configured-name"},
		})

		available := findSamples(samples, "nutanix_cluster_available")
		require.Len(t, available, 1)

		cluster, _ := available[0].Label("cluster")
		assert.Equal(t, "cluster-a", cluster)
	})
}

func TestTranslateDeterminism(t *testing.T) {
	t.Run("should produce identical output for identical input", func(t *testing.T) {
		first, firstStats := translate.Translate(testInventory(), translate.Options{})
		second, secondStats := translate.Translate(testInventory(), translate.Options{})

		require.Equal(t, first, second)
		require.Equal(t, firstStats, secondStats)
	})

	t.Run("should drop and count duplicate series", func(t *testing.T) {
		vm := prism.VM{UUID: "vm-1", Name: "web-01", PowerState: "on"}
		inv := &prism.Inventory{VMs: []prism.VM{vm, vm}}

		samples, stats := translate.Translate(inv, translate.Options{})

		assert.Len(t, findSamples(samples, "nutanix_vm_power_state"), 1)
		assert.Equal(t, 4, stats.Duplicates)
	})

	t.Run("should handle a nil inventory", func(t *testing.T) {
		samples, stats := translate.Translate(nil, translate.Options{})
		assert.Empty(t, samples)
		assert.Zero(t, stats)
	})
}

func TestCatalog(t *testing.T) {
	t.Run("should cover every emitted family with matching help", func(t *testing.T) {
		byName := make(map[string]translate.Family)
		for _, f := range translate.Catalog() {
			byName[f.Name] = f
		}

		samples, _ := translate.Translate(testInventory(), translate.Options{})
		require.NotEmpty(t, samples)
		for _, s := range samples {
			f, ok := byName[s.Name]
			require.True(t, ok, "family %s is missing from the catalog", s.Name)
			assert.Equal(t, f.Help, s.Help, "help text drifted for %s", s.Name)
		}
	})

	t.Run("should be sorted and free of duplicates", func(t *testing.T) {
		families := translate.Catalog()
		for i := 1; i < len(families); i++ {
			assert.Less(t, families[i-1].Name, families[i].Name)
		}
	})
}

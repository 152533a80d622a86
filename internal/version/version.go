// Package version provides build and product metadata for PrismFlow Exporter.
package version

import (
	"fmt"
	"runtime"

	"github.com/prismflow/nutanix-exporter/pkg/banner"
)

// Product identity constants
const (
	ProductName        = "PrismFlow Exporter"
	ProductShortName   = "nutanix-exporter"
	ProductDescription = "Prometheus metrics exporter for Nutanix Prism Central and Prism Element"
	Motto              = "Nutanix Prism Metrics for Prometheus"

	Vendor       = "PrismFlow"
	VendorURL    = "https://prismflow.io"
	Developer    = "PrismFlow Contributors"
	DeveloperURL = "https://github.com/prismflow"

	License    = "Apache-2.0"
	LicenseURL = "https://www.apache.org/licenses/LICENSE-2.0"
	SupportURL = "https://github.com/prismflow/nutanix-exporter/issues"

	Copyright = "Copyright (c) 2024-2026 PrismFlow"
)

// Build metadata, overridden at build time via -ldflags:
//
//	-X github.com/prismflow/nutanix-exporter/internal/version.Version=1.2.3
//	-X github.com/prismflow/nutanix-exporter/internal/version.GitCommit=abcdef0
//	-X github.com/prismflow/nutanix-exporter/internal/version.GitBranch=main
//	-X github.com/prismflow/nutanix-exporter/internal/version.BuildTime=2026-01-02T15:04:05Z
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// Info contains the resolved version and build information
type Info struct {
	Product     string `json:"product"`
	Description string `json:"description"`
	Version     string `json:"version"`
	GitCommit   string `json:"gitCommit"`
	GitBranch   string `json:"gitBranch"`
	BuildTime   string `json:"buildTime"`
	GoVersion   string `json:"goVersion"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	Vendor      string `json:"vendor"`
	Developer   string `json:"developer"`
	License     string `json:"license"`
}

// Get returns the complete version information
func Get() Info {
	return Info{
		Product:     ProductName,
		Description: ProductDescription,
		Version:     Version,
		GitCommit:   GitCommit,
		GitBranch:   GitBranch,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		Vendor:      Vendor,
		Developer:   Developer,
		License:     License,
	}
}

// Short returns the bare semantic version, e.g. "1.0.0"
func Short() string {
	return Version
}

// String returns a multi-line human-readable version report
func String() string {
	info := Get()
	return fmt.Sprintf(`%s v%s
%s

Build Information:
  Version:    %s
  Commit:     %s
  Branch:     %s
  Built:      %s
  Go Version: %s
  Platform:   %s/%s

Vendor:    %s (%s)
Developer: %s
License:   %s
`,
		info.Product, info.Version, info.Description,
		info.Version, info.GitCommit, info.GitBranch, info.BuildTime,
		info.GoVersion, info.OS, info.Arch,
		info.Vendor, VendorURL, info.Developer, info.License)
}

// Full is an alias for String for callers that want the complete report
func Full() string {
	return String()
}

// Banner returns the startup ASCII art banner with build metadata filled in
func Banner() string {
	return banner.Generate(banner.Config{
		ProductName: ProductName,
		Version:     Version,
		Motto:       Motto,
		GitCommit:   GitCommit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Vendor:      Vendor,
		VendorURL:   VendorURL,
		Developer:   Developer,
		License:     License,
		SupportURL:  SupportURL,
		Copyright:   Copyright,
	})
}

// OneLiner returns a single-line version summary for startup logs
func OneLiner() string {
	return fmt.Sprintf("%s v%s (%s/%s, %s)",
		ProductName, Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// UserAgent returns the HTTP User-Agent header value used on Prism requests,
// e.g. "nutanix-exporter/1.0.0 (linux; amd64)"
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", ProductShortName, Version, runtime.GOOS, runtime.GOARCH)
}

// GetMotto returns the product motto
func GetMotto() string {
	return Motto
}

// GetProductInfo returns the product name and description
func GetProductInfo() string {
	return fmt.Sprintf("%s - %s", ProductName, ProductDescription)
}

// GetSupportInfo returns where to get help
func GetSupportInfo() string {
	return fmt.Sprintf("Support: %s", SupportURL)
}

// BuildInfo returns build metadata as a flat map for structured logging
func BuildInfo() map[string]string {
	return map[string]string{
		"product_name": ProductName,
		"version":      Version,
		"git_commit":   GitCommit,
		"git_branch":   GitBranch,
		"build_time":   BuildTime,
		"go_version":   runtime.Version(),
		"platform":     runtime.GOOS + "/" + runtime.GOARCH,
	}
}

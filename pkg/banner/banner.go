// Package banner provides the ASCII art startup banner for PrismFlow Exporter.
//
// PrismFlow Exporter - Nutanix Prism Metrics for Prometheus
// Copyright (c) 2024-2026 PrismFlow. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
package banner

import (
	"fmt"
	"strings"
)

// Config holds banner configuration
type Config struct {
	ProductName string
	Version     string
	Motto       string
	GitCommit   string
	BuildTime   string
	GoVersion   string
	Platform    string
	Vendor      string
	VendorURL   string
	Developer   string
	License     string
	SupportURL  string
	Copyright   string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ProductName: "PrismFlow Exporter",
		Version:     "1.0.0",
		Motto:       "Nutanix Prism Metrics for Prometheus",
		GitCommit:   "unknown",
		BuildTime:   "unknown",
		GoVersion:   "unknown",
		Platform:    "unknown",
		Vendor:      "PrismFlow",
		VendorURL:   "https://prismflow.io",
		Developer:   "PrismFlow Contributors",
		License:     "Apache-2.0",
		SupportURL:  "https://github.com/prismflow/nutanix-exporter/issues",
		Copyright:   "Copyright (c) 2024-2026 PrismFlow",
	}
}

// Generate creates the banner string
func Generate(cfg Config) string {
	return fmt.Sprintf(`
    __________         .__
    \______   \_______ |__|  ______  _____
     |     ___/\_  __ \|  | /  ___/ /     \
     |    |     |  | \/|  | \___ \ |  Y Y  \
     |____|     |__|   |__|/____  >|__|_|  /
                                \/       \/
              ___________.__
              \_   _____/|  |   ______  _  __
               |    __)  |  |  /  _ \ \/ \/ /
               |     \   |  |_(  <_> )     /
               |___  /   |____/\____/ \/\_/
                   \/

  %s
    %s v%s
    %s
  %s
    Platform     %s
    Go Version   %s
    Commit       %s
    Built        %s
  %s
    Vendor       %s (%s)
    Developer    %s
    License      %s
    Support      %s
  %s
    %s
  %s

`, strings.Repeat("═", 78),
		cfg.ProductName, cfg.Version, cfg.Motto,
		strings.Repeat("═", 78),
		cfg.Platform, cfg.GoVersion, cfg.GitCommit, cfg.BuildTime,
		strings.Repeat("─", 78),
		cfg.Vendor, cfg.VendorURL, cfg.Developer, cfg.License, cfg.SupportURL,
		strings.Repeat("─", 78),
		cfg.Copyright,
		strings.Repeat("═", 78))
}

// GenerateCompact creates a compact banner
func GenerateCompact(cfg Config) string {
	return fmt.Sprintf(`
  %s
    %s v%s - %s
  %s
    %s
  %s

`, strings.Repeat("═", 78),
		cfg.ProductName, cfg.Version, cfg.Motto,
		strings.Repeat("═", 78),
		cfg.Copyright,
		strings.Repeat("═", 78))
}

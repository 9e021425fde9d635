// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command vmc runs variational Monte Carlo optimisations.
//
// Usage:
//
//	vmc run --config h2.yaml
//	vmc run --config h2.yaml --run-id h2-jastrow --resume --watch
//	vmc sample --config h2.yaml --steps 20
//	vmc checkpoint list
//	vmc checkpoint show h2-jastrow
//	vmc checkpoint export h2-jastrow 40
//
// Example requests while a run is active with status_addr set:
//
//	curl http://localhost:9464/v1/vmc/status | jq
//	curl http://localhost:9464/v1/vmc/history?limit=10 | jq
//	curl http://localhost:9464/metrics
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-fieldstore - Offline-First Field Survey Store")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("go-fieldstore is the embedded storage core for field data collection:")
	fmt.Println("a single-writer SQLite store holding survey forms, form submissions,")
	fmt.Println("repeated-question responses and field records, with a transmission")
	fmt.Println("queue for at-least-once delivery to a remote server and a watch layer")
	fmt.Println("that re-runs queries whenever the tables they read from change.")
	fmt.Println()
	fmt.Println("Main entry points:")
	fmt.Println()
	fmt.Println("  fieldstore.Open(cfg)            open (or share) the on-device store")
	fmt.Println("  Store.CreateInstance            start a form submission")
	fmt.Println("  Store.AppendIterationResponse   answer a repeated question group")
	fmt.Println("  Store.EnqueueTransmissions      queue artifacts for upload")
	fmt.Println("  Store.QueryDataPoints           rank field records by distance")
	fmt.Println("  fieldstore.Watch                subscribe to live query results")
	fmt.Println()
	fmt.Println("See the fieldstore package documentation for details.")
}

// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package main is counterctl, the operator CLI for chatcounter.
//
//	counterctl health
//	counterctl queue stats
//	counterctl deadletters list --event-type message_created
//	counterctl deadletters replay --all
//	counterctl counters app <token>
//	counterctl publish chat-created --app-token abc --chat-id 7 --chat-number 1
//	counterctl drift --format json
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(GetExitCode(err))
	}
}

// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package supervisor provides process supervision for chatcounter using suture v4.

Every long-running component runs as a suture.Service under a three-layer tree:

	RootSupervisor ("chatcounter")
	├── DataSupervisor ("data-layer")
	│   ├── LifecycleService ("queue-compactor")
	│   └── AuditService ("counter-audit")
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── RouterService ("event-router")
	│   └── worker.Pool ("counter-workers")
	└── APISupervisor ("api-layer")
	    └── HTTPServerService ("admin-server")

Crashed services are restarted with suture's exponential backoff. A router
restart rebuilds its subscribers, so broker reconnects are handled by the
same path as handler panics. Supervisor events are logged through sutureslog
into the zerolog pipeline (see logging.NewSlogLogger).

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewLifecycleService("queue-compactor", compactor))
	tree.AddPipelineService(pool)
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	errCh := tree.ServeBackground(ctx)
	<-ctx.Done()
	<-errCh
*/
package supervisor

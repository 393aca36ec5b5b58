/*
Package cyclone is an asynchronous HTTP/1.1 server framework.

Every connection is served on its own goroutine. Requests are parsed
incrementally, routed through a compiled pattern table with typed path
parameters, and passed through an ordered middleware pipeline before the
handler runs. Each request context is cancelled when the client goes away.

Features

  - Keep-alive, pipelined heads, chunked request and response bodies
  - Expect: 100-continue, HEAD, half-close handling
  - Typed routes (<id:int>, <id:uuid>, <rest:path>), named routes and reverse URLs
  - Function handlers and class-style views
  - Built-in middleware: request IDs, access log, CORS, security headers,
    rate limiting, gzip, bearer auth, Prometheus metrics
  - Streaming responses and server-sent events
  - Storage collaborator with memory, pebble and badger backends
  - Graceful shutdown with a deadline

Quick Start

	package main

	import (
		"context"
		"os"

		"github.com/rs/zerolog"

		"github.com/searchktools/cyclone/app"
		"github.com/searchktools/cyclone/config"
		"github.com/searchktools/cyclone/core/http"
	)

	func main() {
		a := app.New(config.Default(), zerolog.New(os.Stderr))

		a.Router().GET("/hello/<name:str>", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			name, _ := req.Params.String("name")
			return http.Text(http.StatusOK, "Hello, "+name+"!"), nil
		})

		os.Exit(app.ExitCode(a.Run(context.Background())))
	}

Architecture

	app/                  Application: routes, middleware, hooks, run and exit codes
	config/               Settings from file, environment and flags
	core/                 Engine, connection handler, dispatcher
	core/http/            Request, Response, parser and serializer
	core/router/          Pattern compiler and route table
	core/middleware/      Pipeline and built-in middleware
	core/store/           Storage collaborator
	core/sse/             Server-sent events
	core/observability/   Prometheus collectors
	core/pools/           Receive buffer pool
	core/logging/         zerolog setup
	cmd/cyclone/          CLI with a demo notes API

For more examples, see the examples/ directory.
*/
package cyclone

// Package main is the entry point of the webviewrpc command.
//
// webviewrpc hosts a pool of isolated script contexts and lets a host talk
// to objects living inside them.
//
// Commands:
//   - serve: run the HTTP and WebSocket API
//   - eval:  load a page, register a script and print one request's result
//
// Configuration:
//   - Environment variables (12-factor)
//   - --config file (YAML or TOML, overrides env vars)
//   - CLI flags (override both)
//
// Usage:
//
//	# API server
//	webviewrpc serve --config webviewrpc.yaml
//
//	# One-shot evaluation
//	webviewrpc eval --src https://example.com \
//	    --script '({ title: function () { return document.title; } })' \
//	    --method title
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Command potato-registry runs the potato artifact registry: an HTTP
// service storing package artifacts in a content-addressed blob
// store with a SQLite metadata catalog.
//
// The public listener serves the package API:
//
//	PUT    /packages/{name}/{version}   publish an artifact
//	GET    /packages/{name}/{version}   fetch (exact version or range)
//	DELETE /packages/{name}/{version}   yank a published version
//	GET    /packages/{name}             list published versions
//	GET    /packages                    list packages
//
// A separate internal listener serves /metrics (Prometheus) and
// /healthz, kept off the public address.
//
// Configuration comes from a YAML file named by POTATO_CONFIG or
// --config; see lib/config.
package main

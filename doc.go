// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package pj holds the top-level configuration for the pj TCP reverse
// proxy: the environment-driven Config consumed by cmd/main.go and the
// listen/backend mapping format that decides how many relay servers run.
//
// The relay itself lives in pkg/relay, connection bookkeeping in
// pkg/connection, and the connection ID allocator in pkg/idmanager.
package pj

// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package pj

import (
	"fmt"
	"strings"

	"github.com/Yvictor/pj/pkg/errors"
)

// ProxyMapping pairs a listen address with the backend address its
// accepted connections are relayed to.
type ProxyMapping struct {
	ListenAddr string
	ProxyAddr  string
}

// ParseProxyMapping parses a listen_ip:listen_port:proxy_ip:proxy_port
// string. Exactly four colon-separated parts are required; host and port
// values are not validated here, binding and dialing surface that later.
func ParseProxyMapping(s string) (ProxyMapping, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return ProxyMapping{}, fmt.Errorf("%w: %q, expected listen_ip:listen_port:proxy_ip:proxy_port",
			errors.ErrInvalidMapping, s)
	}
	return ProxyMapping{
		ListenAddr: parts[0] + ":" + parts[1],
		ProxyAddr:  parts[2] + ":" + parts[3],
	}, nil
}

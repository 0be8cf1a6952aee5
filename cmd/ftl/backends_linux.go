//go:build linux

package main

import _ "github.com/ftsensor/goftl/pkg/can/socketcanv3"

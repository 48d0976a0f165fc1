//go:build darwin || freebsd

package platform

const reserveFlags = 0

package platform

import "golang.org/x/sys/unix"

// reserveFlags keeps large PROT_NONE reservations from counting against overcommit limits.
const reserveFlags = unix.MAP_NORESERVE

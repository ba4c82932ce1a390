package jsonrpc

import "slices"

// SupportedProtocolVersions lists the tool protocol revisions understood
// here, newest first.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestProtocolVersion is the revision requested by default.
const LatestProtocolVersion = "2025-06-18"

// IsSupportedProtocolVersion reports whether v is in SupportedProtocolVersions.
func IsSupportedProtocolVersion(v string) bool {
	return slices.Contains(SupportedProtocolVersions, v)
}

// Package common holds process-wide helpers shared by the commands and
// library packages: logger construction and build metadata.
package common

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "derived_key_session"

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

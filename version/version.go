package version

// Version is overridden at build time with -ldflags "-X mythicwp/version.Version=...".
var Version = "dev"

// ToolID is the identifier framing every report.
const ToolID = "mythic-wp"

package core

// Version is reported in the default Server header.
const Version = "0.1.0"

// DefaultServerName is used when Options.ServerName is empty.
const DefaultServerName = "cyclone/" + Version

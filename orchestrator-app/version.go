package main

// Set at build time via -ldflags "-X main.Version=... -X main.BuildTime=... -X main.GitCommit=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
